package domain

import "time"

// EngineID names one of the two domain engines.
type EngineID string

const (
	EngineIssues EngineID = "issues"
	EngineCRF    EngineID = "crf"
)

// SessionIDPrefix derives session identifiers from user names
// deterministically, so the same user always lands in the same
// long-term conversation log.
const SessionIDPrefix = "user_"

func SessionIDForUser(userName string) string {
	return SessionIDPrefix + userName
}

// Turn is one question/answer exchange.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the mutable per-user conversation state carried between
// requests. History is bounded; the oldest turn is evicted first.
type Session struct {
	ID         string   `json:"id"`
	UserName   string   `json:"user_name"`
	History    []Turn   `json:"history"`
	TurnIndex  int      `json:"turn_index"`
	LastEngine EngineID `json:"last_engine,omitempty"`
}

// RecordTurn appends a turn and trims history to maxTurns.
func (s *Session) RecordTurn(turn Turn, maxTurns int) {
	s.History = append(s.History, turn)
	if maxTurns > 0 && len(s.History) > maxTurns {
		s.History = s.History[len(s.History)-maxTurns:]
	}
	s.TurnIndex++
}

// ChatRequest is the caller-facing request.
type ChatRequest struct {
	Question string `json:"question"`
	UserName string `json:"user_name"`
	TopK     int    `json:"top_k,omitempty"`
}

// Chart is an inline binary artifact produced by the generation provider
// (statistics questions may yield rendered charts).
type Chart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// Source is a citation. The populated fields depend on the engine:
// issues use IssueID/Subject/URL, CRF uses RecordID/Hospital/PathNo/Sheet,
// generic documents use Filename/ChunkIndex.
type Source struct {
	IssueID string `json:"issue_id,omitempty"`
	Subject string `json:"subject,omitempty"`
	URL     string `json:"url,omitempty"`

	RecordID string `json:"record_id,omitempty"`
	Hospital string `json:"hospital,omitempty"`
	PathNo   string `json:"path_no,omitempty"`
	Sheet    string `json:"sheet,omitempty"`
	RowIndex int    `json:"row_index,omitempty"`

	Filename    string `json:"filename,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`

	Distance       float64 `json:"distance"`
	ContentPreview string  `json:"content_preview,omitempty"`
}

// Answer is the structurally validated result every handler branch returns.
// Engine names the domain engine that produced the answer.
type Answer struct {
	Text          string   `json:"answer"`
	Sources       []Source `json:"sources"`
	Question      string   `json:"question"`
	Engine        string   `json:"engine,omitempty"`
	DocumentCount int      `json:"document_count,omitempty"`
	Charts        []Chart  `json:"charts,omitempty"`
}

// MemoryTurn is a long-term conversation record returned from semantic
// history search, scored by relevance (1 - distance).
type MemoryTurn struct {
	Question  string  `json:"question"`
	Answer    string  `json:"answer"`
	TurnIndex int     `json:"turn_index"`
	Timestamp string  `json:"timestamp"`
	Relevance float64 `json:"relevance_score"`
}

// SessionSummary groups a session's stored turns for history queries.
type SessionSummary struct {
	SessionID      string       `json:"session_id"`
	Count          int          `json:"conversation_count"`
	Turns          []MemoryTurn `json:"conversations"`
	FirstTimestamp string       `json:"first_timestamp"`
	LastTimestamp  string       `json:"last_timestamp"`
}

// HistorySummary is the aggregate view over stored conversations.
type HistorySummary struct {
	TotalTurns    int              `json:"total_conversations"`
	TotalSessions int              `json:"total_sessions"`
	Sessions      []SessionSummary `json:"sessions"`
}

// UserInfo summarizes one user's footprint in the conversation log.
type UserInfo struct {
	UserName   string `json:"user_name"`
	TotalTurns int    `json:"total_conversations"`
	FirstSeen  string `json:"first_seen,omitempty"`
	LastSeen   string `json:"last_seen,omitempty"`
}

// TurnRecord is the payload persisted into long-term conversation memory
// (and published on the turn queue when async persistence is enabled).
type TurnRecord struct {
	SessionID string    `json:"session_id"`
	TurnIndex int       `json:"turn_index"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}
