package modules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"escrowledger/services/archive"
)

// EventStore is the subset of the archive served over RPC.
type EventStore interface {
	List(ctx context.Context, filter archive.Filter) ([]archive.Record, error)
	Verify(ctx context.Context) error
	Head() (uint64, string)
}

// AuditModule serves the persisted event trail.
type AuditModule struct {
	store EventStore
}

func NewAuditModule(store EventStore) *AuditModule {
	return &AuditModule{store: store}
}

type EventsParams struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	AfterSeq uint64 `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type EventResult struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Height     uint64            `json:"height"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
}

type EventsResult struct {
	Events []EventResult `json:"events"`
	Next   uint64        `json:"next,omitempty"`
}

type VerifyResult struct {
	Valid   bool   `json:"valid"`
	HeadSeq uint64 `json:"headSeq"`
	Head    string `json:"head,omitempty"`
	Error   string `json:"error,omitempty"`
}

var errArchiveOffline = &ModuleError{HTTPStatus: http.StatusNotImplemented, Code: codeServerError, Message: "event archive disabled"}

// Enabled reports whether an archive backs the module.
func (m *AuditModule) Enabled() bool { return m != nil && m.store != nil }

func (m *AuditModule) Events(ctx context.Context, raw json.RawMessage) (*EventsResult, *ModuleError) {
	if !m.Enabled() {
		return nil, errArchiveOffline
	}
	var params EventsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams("invalid parameter object", err.Error())
		}
	}
	filter := archive.Filter{Type: strings.TrimSpace(params.Type), AfterSeq: params.AfterSeq, Limit: params.Limit}
	if strings.TrimSpace(params.ID) != "" {
		id, err := parseID(params.ID)
		if err != nil {
			return nil, invalidParams(err.Error(), nil)
		}
		filter.EscrowID = id
	}
	records, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "archive query failed", Data: err.Error()}
	}
	out := &EventsResult{Events: make([]EventResult, 0, len(records))}
	for i := range records {
		evt, err := records[i].Event()
		if err != nil {
			return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "corrupt archive record", Data: err.Error()}
		}
		out.Events = append(out.Events, EventResult{
			Seq:        records[i].Seq,
			Type:       records[i].Type,
			Height:     records[i].Height,
			Attributes: evt.Attributes,
			Digest:     records[i].Digest,
		})
	}
	if n := len(records); n > 0 {
		out.Next = records[n-1].Seq
	}
	return out, nil
}

// Verify recomputes the digest chain. A broken chain is reported in the
// result rather than as an RPC error.
func (m *AuditModule) Verify(ctx context.Context) (*VerifyResult, *ModuleError) {
	if !m.Enabled() {
		return nil, errArchiveOffline
	}
	seq, head := m.store.Head()
	result := &VerifyResult{Valid: true, HeadSeq: seq, Head: head}
	if err := m.store.Verify(ctx); err != nil {
		if !errors.Is(err, archive.ErrChainBroken) {
			return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "archive verification failed", Data: err.Error()}
		}
		result.Valid = false
		result.Error = err.Error()
	}
	return result, nil
}
