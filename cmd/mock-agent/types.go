package main

// providerLine is one stdout event in the line protocol the gateway's
// provider adapters parse.
type providerLine struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
	Error string         `json:"error,omitempty"`
}

// toolResult is the payload the gateway injects on stdin after running a
// tool call. Name may be empty on budget rejections.
type toolResult struct {
	Name   string         `json:"name"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// incomingLine distinguishes tool_result injections from user prompts.
type incomingLine struct {
	ToolResult *toolResult `json:"tool_result"`
}

func token(text string) providerLine {
	return providerLine{Type: "token", Text: text}
}

func toolCall(name string, args map[string]any) providerLine {
	return providerLine{Type: "tool_call", Name: name, Args: args}
}

func final(text string) providerLine {
	return providerLine{Type: "final", Text: text}
}

func errorEvent(msg string) providerLine {
	return providerLine{Type: "error", Error: msg}
}
