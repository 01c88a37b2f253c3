package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cryptonite/internal/action"
	"cryptonite/internal/agent"
	"cryptonite/internal/config"
	"cryptonite/internal/conversation"
	"cryptonite/internal/tui"
	"cryptonite/internal/wallet"
	web3sol "cryptonite/internal/web3/solana"
	"cryptonite/internal/web3/provider"
	"cryptonite/pkg/logger"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cryptonite",
		Short:         "Chat with the Solana AI assistant and execute the actions it proposes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the JSON configuration file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")

	root.AddCommand(
		newChatCmd(opts),
		newSendCmd(opts),
		newDecodeCmd(),
		newClustersCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// load 读取配置并初始化日志。标准输出保留给命令本身：交互模式写日志文件，其余写 stderr。
func (o *rootOptions) load(interactive bool) error {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return err
	}
	outputs := cfg.Log.Outputs
	if interactive {
		outputs = withoutConsole(outputs, filepath.Join(cfg.Runtime.DataDir, "cryptonite.log"))
	} else if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// withoutConsole 把 stdout/stderr 输出替换为日志文件。
func withoutConsole(outputs []string, file string) []string {
	kept := make([]string, 0, len(outputs)+1)
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout", "stderr":
			continue
		}
		kept = append(kept, out)
	}
	if len(kept) == 0 {
		kept = append(kept, file)
	}
	return kept
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if resume != "" {
				if err := a.agent.Resume(cmd.Context(), resume); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)

			if addr := opts.cfg.Metrics.Address; addr != "" {
				g.Go(func() error {
					if err := a.metrics.StartServer(gctx, addr); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			g.Go(func() error {
				defer cancel()
				model := tui.New(gctx, a.agent, a.presets, tui.Info{
					Cluster: a.registry.DefaultCluster(),
					Wallet:  wallet.AddressOf(a.wallets),
				})
				return tui.Run(gctx, model)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "continue a stored conversation by id")
	return cmd
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var assumeYes bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and handle the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			confirm := func(summary string) bool {
				if assumeYes {
					return true
				}
				return askConfirm(cmd.InOrStdin(), cmd.OutOrStdout(), summary)
			}
			return sendOnce(cmd.Context(), a.agent, strings.Join(args, " "), cmd.OutOrStdout(), confirm)
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "execute a proposed action without asking")
	return cmd
}

// chatSession 是 send 命令依赖的会话能力。
type chatSession interface {
	Start(ctx context.Context, firstMessage string) error
	Send(ctx context.Context, text string) error
	Messages() []conversation.Message
	Pending() (action.Descriptor, bool)
	ExecutePending(ctx context.Context) (action.Outcome, error)
	DismissPending() bool
}

func sendOnce(ctx context.Context, session chatSession, message string, out io.Writer, confirm func(string) bool) error {
	if err := session.Start(ctx, message); err != nil {
		return err
	}
	seen := len(session.Messages())
	sendErr := session.Send(ctx, message)
	seen = printAI(out, session.Messages(), seen)
	if sendErr != nil {
		return sendErr
	}

	d, ok := session.Pending()
	if !ok {
		return nil
	}
	if !confirm(d.Summary()) {
		session.DismissPending()
		fmt.Fprintln(out, "Action dismissed.")
		return nil
	}
	outcome, err := session.ExecutePending(ctx)
	printAI(out, session.Messages(), seen)
	if err == nil && outcome.Succeeded() {
		fmt.Fprintln(out, outcome.Headline())
	}
	return err
}

func printAI(out io.Writer, msgs []conversation.Message, from int) int {
	for _, m := range msgs[min(from, len(msgs)):] {
		if m.Role == conversation.RoleAI {
			fmt.Fprintln(out, m.Content)
		}
	}
	return len(msgs)
}

func askConfirm(in io.Reader, out io.Writer, summary string) bool {
	fmt.Fprintf(out, "Confirm %s? [y/N] ", summary)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <base64>",
		Short: "Decode a serialized transaction and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := web3sol.DecodeTransaction(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(web3sol.Summarize(tx))
		},
	}
}

func newClustersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clusters",
		Short: "List the configured Solana clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			registry, err := provider.NewRegistry(opts.cfg.Ledger)
			if err != nil {
				return err
			}
			defer registry.Close()
			return printClusters(cmd.OutOrStdout(), registry)
		},
	}
}

func printClusters(out io.Writer, registry *provider.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRPC URL\tDESCRIPTION")
	for _, name := range registry.Clusters() {
		def, _ := registry.Cluster(name)
		marker := ""
		if name == registry.DefaultCluster() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\n", name, marker, def.RPCURL, def.Description)
	}
	return w.Flush()
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a stored conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			defer logger.Sync()

			repo, err := openTranscript(cmd.Context(), opts.cfg.Transcript)
			if err != nil {
				return err
			}
			defer repo.Close()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), repo, args[0], limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", agent.DefaultHistoryLimit, "number of most recent messages to print, 0 for all")
	return cmd
}

func printHistory(ctx context.Context, out io.Writer, repo conversation.Repository, id string, limit int) error {
	msgs, err := repo.List(ctx, id, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("对话 %s 没有记录", id)
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content)
	}
	return nil
}
