package workflow

// Kind identifies a node variant.
type Kind string

const (
	KindInput       Kind = "input"
	KindOutput      Kind = "output"
	KindLLM         Kind = "llm"
	KindCondition   Kind = "condition"
	KindTool        Kind = "tool"
	KindHTTP        Kind = "http"
	KindTemplate    Kind = "template"
	KindMultiAgent  Kind = "multiAgent"
	KindCode        Kind = "code"
	KindLoop        Kind = "loop"
	KindDelay       Kind = "delay"
	KindSubWorkflow Kind = "subWorkflow"
	KindStorage     Kind = "storage"
	KindApproval    Kind = "approval"
	// KindNote is an annotation; it never executes and its name need not be unique.
	KindNote Kind = "note"
)

// Node is the sealed set of node variants. Every variant embeds NodeBase.
type Node interface {
	Kind() Kind
	Base() *NodeBase
	sealed()
}

// NodeBase holds the fields every node carries.
type NodeBase struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	OutputSchema  *Schema        `json:"outputSchema,omitempty"`
	ErrorHandling *ErrorHandling `json:"errorHandling,omitempty"`
}

func (b *NodeBase) Base() *NodeBase { return b }
func (b *NodeBase) sealed()         {}

// FailureAction is applied once retries are exhausted.
type FailureAction string

const (
	FailureStop     FailureAction = "stop"
	FailureContinue FailureAction = "continue"
	FailureFallback FailureAction = "fallback"
)

// ErrorHandling configures the retry decorator around a node.
type ErrorHandling struct {
	Enabled       bool          `json:"enabled"`
	MaxRetries    int           `json:"maxRetries"`
	RetryDelayMs  int           `json:"retryDelayMs"`
	OnFailure     FailureAction `json:"onFailure"`
	FallbackValue any           `json:"fallbackValue,omitempty"`
}

// Mapping binds a key to a value resolved from another node.
type Mapping struct {
	Key    string     `json:"key"`
	Source *SourceKey `json:"source,omitempty"`
}

// Operand is either a literal or a reference. String literals go through
// placeholder substitution when resolved.
type Operand struct {
	Value  any        `json:"value,omitempty"`
	Source *SourceKey `json:"source,omitempty"`
}

// KeyValue is a named Operand, used for headers and query parameters.
type KeyValue struct {
	Key   string  `json:"key"`
	Value Operand `json:"value"`
}

type InputNode struct {
	NodeBase
}

type OutputNode struct {
	NodeBase
	OutputData []Mapping `json:"outputData"`
}

// LLMMessage is one prompt message; Content may embed references.
type LLMMessage struct {
	Role    string   `json:"role"`
	Content RichText `json:"content"`
}

type LLMNode struct {
	NodeBase
	Model    string       `json:"model"`
	Messages []LLMMessage `json:"messages"`
}

// BranchType orders the branches of a Condition node.
type BranchType string

const (
	BranchIf     BranchType = "if"
	BranchElseIf BranchType = "elseIf"
	BranchElse   BranchType = "else"
)

// LogicalOperator combines the conditions of a branch.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition compares the value at Source against Value.
type Condition struct {
	Operator Operator   `json:"operator"`
	Source   *SourceKey `json:"source,omitempty"`
	Value    any        `json:"value,omitempty"`
}

// ConditionBranch is a named condition group. Edges leaving a Condition node
// select a branch through their sourceHandle, which equals the branch ID.
type ConditionBranch struct {
	ID              string          `json:"id"`
	Type            BranchType      `json:"type"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
	Conditions      []Condition     `json:"conditions"`
}

type ConditionNode struct {
	NodeBase
	Branches []ConditionBranch `json:"branches"`
}

// ToolSource tells managed-protocol tools from built-in app tools.
type ToolSource string

const (
	ToolSourceApp     ToolSource = "app"
	ToolSourceManaged ToolSource = "mcp"
)

// ToolRef identifies the tool a Tool node calls.
type ToolRef struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Source      ToolSource `json:"source"`
	ServerID    string     `json:"serverId,omitempty"`
	Parameters  *Schema    `json:"parameters,omitempty"`
}

type ToolNode struct {
	NodeBase
	Tool    *ToolRef `json:"tool"`
	Model   string   `json:"model"`
	Message RichText `json:"message"`
}

// BodyType selects how an Http body is encoded.
type BodyType string

const (
	BodyJSON BodyType = "json"
	BodyText BodyType = "text"
	BodyForm BodyType = "form"
)

type HTTPNode struct {
	NodeBase
	Method      string     `json:"method"`
	URL         *RichText  `json:"url"`
	QueryParams []KeyValue `json:"queryParams,omitempty"`
	Headers     []KeyValue `json:"headers,omitempty"`
	Body        *Operand   `json:"body,omitempty"`
	BodyType    BodyType   `json:"bodyType,omitempty"`
	Timeout     *int       `json:"timeout,omitempty"`
}

type TemplateNode struct {
	NodeBase
	Template RichText `json:"template"`
}

type MultiAgentNode struct {
	NodeBase
	Agent1ID string   `json:"agent1Id"`
	Agent2ID string   `json:"agent2Id"`
	Task     RichText `json:"task"`
	MaxTurns int      `json:"maxTurns,omitempty"`
}

type CodeNode struct {
	NodeBase
	Language      string    `json:"language"`
	Code          string    `json:"code"`
	Timeout       int       `json:"timeout"`
	InputMappings []Mapping `json:"inputMappings,omitempty"`
}

// LoopMode selects how iterations are scheduled.
type LoopMode string

const (
	LoopSequential LoopMode = "sequential"
	LoopParallel   LoopMode = "parallel"
)

// LoopDoneHandle marks Loop out-edges that continue after the loop. All other
// out-edges enter the loop body.
const LoopDoneHandle = "done"

type LoopNode struct {
	NodeBase
	ArraySource   *SourceKey `json:"arraySource"`
	ItemVariable  string     `json:"itemVariable"`
	IndexVariable string     `json:"indexVariable,omitempty"`
	MaxIterations int        `json:"maxIterations"`
	Mode          LoopMode   `json:"mode"`
}

// DelayType selects where a Delay node takes its duration from.
type DelayType string

const (
	DelayFixed   DelayType = "fixed"
	DelayDynamic DelayType = "dynamic"
)

type DelayNode struct {
	NodeBase
	DelayType     DelayType  `json:"delayType"`
	DelayMs       int        `json:"delayMs"`
	DynamicSource *SourceKey `json:"dynamicSource,omitempty"`
}

type SubWorkflowNode struct {
	NodeBase
	WorkflowID string    `json:"workflowId"`
	Timeout    int       `json:"timeout"`
	Inputs     []Mapping `json:"inputs,omitempty"`
}

// StorageOperation is the action a Storage node performs.
type StorageOperation string

const (
	StorageGet    StorageOperation = "get"
	StorageSet    StorageOperation = "set"
	StorageDelete StorageOperation = "delete"
	StorageList   StorageOperation = "list"
)

type StorageNode struct {
	NodeBase
	Operation    StorageOperation `json:"operation"`
	StorageKey   RichText         `json:"storageKey"`
	StorageValue *Operand         `json:"storageValue,omitempty"`
	TTLMs        *int             `json:"ttlMs,omitempty"`
}

// TimeoutAction is applied when an approval is not answered in time.
type TimeoutAction string

const (
	TimeoutApprove TimeoutAction = "approve"
	TimeoutReject  TimeoutAction = "reject"
	TimeoutStop    TimeoutAction = "stop"
)

type ApprovalNode struct {
	NodeBase
	Message   RichText      `json:"message"`
	TimeoutMs int           `json:"timeoutMs"`
	OnTimeout TimeoutAction `json:"onTimeout"`
}

type NoteNode struct {
	NodeBase
	Text string `json:"text,omitempty"`
}

func (*InputNode) Kind() Kind       { return KindInput }
func (*OutputNode) Kind() Kind      { return KindOutput }
func (*LLMNode) Kind() Kind         { return KindLLM }
func (*ConditionNode) Kind() Kind   { return KindCondition }
func (*ToolNode) Kind() Kind        { return KindTool }
func (*HTTPNode) Kind() Kind        { return KindHTTP }
func (*TemplateNode) Kind() Kind    { return KindTemplate }
func (*MultiAgentNode) Kind() Kind  { return KindMultiAgent }
func (*CodeNode) Kind() Kind        { return KindCode }
func (*LoopNode) Kind() Kind        { return KindLoop }
func (*DelayNode) Kind() Kind       { return KindDelay }
func (*SubWorkflowNode) Kind() Kind { return KindSubWorkflow }
func (*StorageNode) Kind() Kind     { return KindStorage }
func (*ApprovalNode) Kind() Kind    { return KindApproval }
func (*NoteNode) Kind() Kind        { return KindNote }

// newNode allocates the variant for kind.
func newNode(kind Kind) (Node, bool) {
	switch kind {
	case KindInput:
		return &InputNode{}, true
	case KindOutput:
		return &OutputNode{}, true
	case KindLLM:
		return &LLMNode{}, true
	case KindCondition:
		return &ConditionNode{}, true
	case KindTool:
		return &ToolNode{}, true
	case KindHTTP:
		return &HTTPNode{}, true
	case KindTemplate:
		return &TemplateNode{}, true
	case KindMultiAgent:
		return &MultiAgentNode{}, true
	case KindCode:
		return &CodeNode{}, true
	case KindLoop:
		return &LoopNode{}, true
	case KindDelay:
		return &DelayNode{}, true
	case KindSubWorkflow:
		return &SubWorkflowNode{}, true
	case KindStorage:
		return &StorageNode{}, true
	case KindApproval:
		return &ApprovalNode{}, true
	case KindNote:
		return &NoteNode{}, true
	}
	return nil, false
}

// schemaOf returns the declared output schema, falling back to the fixed
// shape of kinds whose output does not depend on configuration.
func schemaOf(n Node) *Schema {
	if s := n.Base().OutputSchema; s != nil {
		return s
	}
	return defaultOutputSchema(n)
}

func defaultOutputSchema(n Node) *Schema {
	str, num, boolean := ScalarSchema(SchemaString), ScalarSchema(SchemaNumber), ScalarSchema(SchemaBoolean)
	switch v := n.(type) {
	case *LLMNode:
		return ObjectSchema(Prop("answer", str))
	case *ConditionNode:
		return ObjectSchema(Prop("type", str), Prop("branch", str), Prop("nextNodes", ArraySchema(str)))
	case *ToolNode:
		return ObjectSchema(Prop("tool_result", &Schema{}))
	case *HTTPNode:
		return ObjectSchema(
			Prop("status", num), Prop("statusText", str), Prop("ok", boolean),
			Prop("headers", ObjectSchema()), Prop("body", &Schema{}),
			Prop("duration", num), Prop("size", num),
		)
	case *TemplateNode:
		return ObjectSchema(Prop("template", str))
	case *MultiAgentNode:
		return ObjectSchema(Prop("result", str), Prop("turns", num), Prop("threadId", str))
	case *CodeNode:
		return ObjectSchema(Prop("result", &Schema{}))
	case *LoopNode:
		item := ObjectSchema(Prop("index", num), Prop("item", &Schema{}), Prop("output", ObjectSchema()), Prop("error", str))
		props := []Property{
			Prop("results", ArraySchema(item)), Prop("length", num), Prop("failed", num),
			Prop("item", &Schema{}), Prop("index", num),
		}
		if v.ItemVariable != "" && v.ItemVariable != "item" {
			props = append(props, Prop(v.ItemVariable, &Schema{}))
		}
		if v.IndexVariable != "" && v.IndexVariable != "index" {
			props = append(props, Prop(v.IndexVariable, num))
		}
		return ObjectSchema(props...)
	case *DelayNode:
		return ObjectSchema(Prop("delayMs", num))
	case *StorageNode:
		return ObjectSchema(
			Prop("found", boolean), Prop("key", str), Prop("value", &Schema{}),
			Prop("success", boolean), Prop("deleted", boolean),
			Prop("keys", ArraySchema(str)), Prop("count", num),
		)
	case *ApprovalNode:
		return ObjectSchema(
			Prop("approved", boolean), Prop("rejected", boolean), Prop("message", str),
			Prop("comment", str), Prop("timedOut", boolean),
		)
	}
	return nil
}
