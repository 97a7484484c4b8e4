package gateway

// Event types the agent engine pushes into the chat UI mid-turn.

// ToolState is the lifecycle phase of one tool invocation.
type ToolState string

const (
	StateStarted   ToolState = "started"
	StateInProcess ToolState = "in_process"
	StatePending   ToolState = "pending"
	StateCompleted ToolState = "completed"
	StateFailed    ToolState = "failed"
)

// Tool names the capability the engine is running.
type Tool string

const (
	ToolCreatePlan Tool = "create_plan"
	ToolUpdatePlan Tool = "update_plan"
	ToolSwap       Tool = "swap"
	ToolBridge     Tool = "bridge"
	ToolStaking    Tool = "staking"
	ToolTransfer   Tool = "transfer_tokens"
)

// Terminal reports whether a tool invocation finishes with this state.
func (s ToolState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transactional reports whether a tool's completion warrants a success
// card with an explorer link.
func (t Tool) Transactional() bool {
	switch t {
	case ToolSwap, ToolBridge, ToolStaking, ToolTransfer:
		return true
	}
	return false
}

// PlanTask is one entry of an execution plan.
type PlanTask struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"` // pending|in_progress|completed
}

// ToolEvent is one progress push from the engine. In_process and
// pending events may repeat with non-decreasing Progress; exactly one
// terminal event arrives per logical invocation.
type ToolEvent struct {
	State    ToolState  `json:"state"`
	Tool     Tool       `json:"tool_name"`
	Message  string     `json:"message,omitempty"`
	Progress int        `json:"progress,omitempty"`
	Plan     []PlanTask `json:"plan,omitempty"`
	Data     ToolData   `json:"data,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ToolData is the tool-specific payload of a terminal event.
type ToolData struct {
	Status     string  `json:"status,omitempty"`
	TxHash     string  `json:"tx_hash,omitempty"`
	Network    string  `json:"network,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	FromSymbol string  `json:"from_symbol,omitempty"`
	ToSymbol   string  `json:"to_symbol,omitempty"`
	FromAmount float64 `json:"from_amount,omitempty"`
	ToAmount   float64 `json:"to_amount,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	Operation  string  `json:"operation,omitempty"` // stake|unstake|claim
	Receiver   string  `json:"receiver,omitempty"`
}

// ReviewRequest asks the user to approve or reject a proposed
// transaction before the engine executes it. Exactly one of Swap,
// Staking, Transfer is set, matching Tool.
type ReviewRequest struct {
	Tool     Tool            `json:"tool_name"`
	ThreadID string          `json:"thread_id"`
	Swap     *SwapReview     `json:"swap,omitempty"`
	Staking  *StakingReview  `json:"staking,omitempty"`
	Transfer *TransferReview `json:"transfer,omitempty"`
}

type SwapReview struct {
	FromAmount float64 `json:"from_amount"`
	FromSymbol string  `json:"from_symbol"`
	ToAmount   float64 `json:"to_amount"`
	ToSymbol   string  `json:"to_symbol"`
	Network    string  `json:"network"`
}

type StakingReview struct {
	Amount    float64 `json:"amount"`
	Symbol    string  `json:"symbol"`
	Operation string  `json:"operation"`
}

type TransferReview struct {
	Amount   float64 `json:"amount"`
	Symbol   string  `json:"symbol"`
	Receiver string  `json:"receiver"`
	Network  string  `json:"network"`
}
