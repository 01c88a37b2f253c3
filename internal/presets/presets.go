package presets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Preset 是可一键填入输入框的示例提示。
type Preset struct {
	Prompt   string   `json:"prompt"`
	Keywords []string `json:"keywords,omitempty"`
}

// Defaults 是内置的示例提示。
var Defaults = []Preset{
	{Prompt: "List me all the tokens I have in my wallet", Keywords: []string{"tokens", "wallet"}},
	{Prompt: "Give me the balance of SOL in my wallet", Keywords: []string{"balance"}},
	{Prompt: "Show me my wallet address", Keywords: []string{"address"}},
	{Prompt: "Buy me 1 SOL of usdc token", Keywords: []string{"buy", "swap"}},
	{Prompt: "What is the price of SOL in USD?", Keywords: []string{"price"}},
	{Prompt: "Show me a list of all the top trending tokens", Keywords: []string{"trending"}},
	{Prompt: "Send 0.01 SOL to [your sol address]", Keywords: []string{"send", "transfer"}},
}

// Catalog 保存一组示例提示。
type Catalog struct {
	items []Preset
}

// NewCatalog 创建目录，items 为空时使用内置列表。
func NewCatalog(items []Preset) *Catalog {
	if len(items) == 0 {
		items = Defaults
	}
	cloned := make([]Preset, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Prompt) == "" {
			continue
		}
		cloned = append(cloned, item)
	}
	return &Catalog{items: cloned}
}

// LoadCatalog 从 JSON 文件加载示例提示。路径为空时返回内置列表。
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(nil), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析提示文件路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取提示文件失败: %w", err)
	}
	defer file.Close()

	var entries []Preset
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析提示文件失败: %w", err)
	}
	return NewCatalog(entries), nil
}

// All 返回全部提示。
func (c *Catalog) All() []Preset {
	if c == nil {
		return nil
	}
	out := make([]Preset, len(c.items))
	copy(out, c.items)
	return out
}

// At 返回第 i 个提示。
func (c *Catalog) At(i int) (Preset, bool) {
	if c == nil || i < 0 || i >= len(c.items) {
		return Preset{}, false
	}
	return c.items[i], true
}

// Len 返回提示数量。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Match 返回与输入相关的提示，最多 max 条；输入为空时不返回结果。
func (c *Catalog) Match(input string, max int) []Preset {
	if c == nil {
		return nil
	}
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}
	if max <= 0 {
		max = 3
	}

	results := make([]Preset, 0, max)
	for _, item := range c.items {
		if matches(item, input) {
			results = append(results, item)
			if len(results) >= max {
				break
			}
		}
	}
	return results
}

func matches(p Preset, input string) bool {
	if strings.Contains(strings.ToLower(p.Prompt), input) {
		return true
	}
	for _, keyword := range p.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(input, normalized) {
			return true
		}
	}
	return false
}
