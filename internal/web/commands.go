package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"conclave/internal/session"
)

// commandRequest is the editor bridge envelope. Fields beyond command are
// command-specific.
type commandRequest struct {
	Command      string `json:"command"`
	Code         string `json:"code,omitempty"`
	Filename     string `json:"filename,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Message      string `json:"message,omitempty"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, commandResponse{Success: false, Error: "invalid request body"})
		return
	}

	switch req.Command {
	case "test_connection":
		s.commandTestConnection(w)
	case "analyze_code":
		s.commandAnalyzeCode(w, r, req)
	case "chat":
		s.commandChat(w, r, req)
	default:
		jsonResponse(w, commandResponse{Success: false, Error: fmt.Sprintf("unknown command: %s", req.Command)})
	}
}

func (s *Server) commandTestConnection(w http.ResponseWriter) {
	jsonResponse(w, commandResponse{
		Success: true,
		Result: map[string]any{
			"status":  "connected",
			"version": s.version,
			"agents":  s.runner.AgentIDs(),
		},
	})
}

func (s *Server) commandAnalyzeCode(w http.ResponseWriter, r *http.Request, req commandRequest) {
	if req.Code == "" {
		jsonResponse(w, commandResponse{Success: false, Error: "code is required"})
		return
	}

	var sb strings.Builder
	sb.WriteString("Analyze the following code")
	if req.Filename != "" {
		fmt.Fprintf(&sb, " from %s", req.Filename)
	}
	sb.WriteString(".\n\n")
	if req.Instructions != "" {
		sb.WriteString(req.Instructions)
		sb.WriteString("\n\n")
	}
	sb.WriteString("```\n")
	sb.WriteString(req.Code)
	sb.WriteString("\n```")

	s.runSession(w, r, sb.String())
}

func (s *Server) commandChat(w http.ResponseWriter, r *http.Request, req commandRequest) {
	if req.Message == "" {
		jsonResponse(w, commandResponse{Success: false, Error: "message is required"})
		return
	}
	s.runSession(w, r, req.Message)
}

// runSession drives a full coordination session for a bridge command and
// renders the terminal verdict in the command envelope.
func (s *Server) runSession(w http.ResponseWriter, r *http.Request, prompt string) {
	sess, err := s.runner.Run(r.Context(), prompt)
	if err != nil {
		jsonResponse(w, commandResponse{Success: false, Error: err.Error()})
		return
	}

	if !sess.Decided() {
		reason := "no usable decision"
		if sess.Verdict != nil && sess.Verdict.Reason != "" {
			reason = sess.Verdict.Reason
		}
		jsonResponse(w, commandResponse{Success: false, Error: reason})
		return
	}

	jsonResponse(w, commandResponse{Success: true, Result: verdictResult(sess)})
}

func verdictResult(sess *session.Session) map[string]any {
	out := map[string]any{
		"session_id": sess.ID,
		"state":      sess.State,
		"rounds":     len(sess.Rounds),
		"kind":       sess.Verdict.Kind,
		"decision":   sess.Verdict.Decision,
	}
	if len(sess.Verdict.Supporting) > 0 {
		out["supporting"] = sess.Verdict.Supporting
	}
	if sess.Verdict.Reason != "" {
		out["reason"] = sess.Verdict.Reason
	}
	// Full content of the decision's supporters, for editors that render
	// more than the one-line decision.
	if len(sess.Rounds) > 0 {
		last := sess.Rounds[len(sess.Rounds)-1]
		for _, resp := range last.Responses {
			if len(sess.Verdict.Supporting) > 0 && resp.AgentID == sess.Verdict.Supporting[0] {
				out["content"] = resp.Content
				break
			}
		}
	}
	return out
}
