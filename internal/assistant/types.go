package assistant

// 助手后端返回的工具标识。
const (
	ToolGetBalance      = "get_solana_balance"
	ToolSendTransaction = "send_solana_transaction"
	ToolBuyToken        = "buy_token"
	ToolListMyTokens    = "list_my_tokens"
	ToolListTrending    = "list_top_trending_tokens"
)

// Response 是发送消息后后端返回的判别对象，Tool 决定其余字段的含义。
type Response struct {
	Tool            string           `json:"tool"`
	Response        string           `json:"response,omitempty"`
	TransactionData *TransactionData `json:"transactionData,omitempty"`
	SwapTransaction *SwapTransaction `json:"swapTransaction,omitempty"`
}

// TransactionData 描述一笔 SOL 转账，Amount 以 lamports 计。
type TransactionData struct {
	ToAddress string  `json:"toAddress"`
	Amount    float64 `json:"amount"`
}

// SwapTransaction 携带后端构造好的 base64 交易。
type SwapTransaction struct {
	Transaction string  `json:"transaction"`
	Token       string  `json:"token"`
	Amount      float64 `json:"amount"`
}

type createConversationRequest struct {
	Message string `json:"message"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageRequest struct {
	Message       string  `json:"message"`
	WalletAddress *string `json:"walletAddress"`
}
