package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/logging"
)

// DefaultBoardTimeout bounds one board request.
const DefaultBoardTimeout = 30 * time.Second

// BoardOptions configures a Board.
type BoardOptions struct {
	Endpoint   string
	BoardID    string
	Token      string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Board posts one item per status update to a project-management webhook.
type Board struct {
	endpoint   string
	boardID    string
	token      string
	httpClient *http.Client
	log        *logging.Logger
}

// NewBoard creates a Board client.
func NewBoard(opts BoardOptions) *Board {
	b := &Board{
		endpoint:   opts.Endpoint,
		boardID:    opts.BoardID,
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: DefaultBoardTimeout}
	}
	if b.log == nil {
		b.log = logging.Default()
	}
	return b
}

// BoardItem is the request body sent for each update.
type BoardItem struct {
	BoardID      string       `json:"board_id"`
	Name         string       `json:"name"`
	ColumnValues ColumnValues `json:"column_values"`
}

// ColumnValues are the item's board columns.
type ColumnValues struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// ReportStatus creates a board item for s with the given status.
func (b *Board) ReportStatus(ctx context.Context, s *assistant.Suggestion, status string) error {
	item := BoardItem{
		BoardID: b.boardID,
		Name:    s.Feature,
		ColumnValues: ColumnValues{
			Status:      status,
			Description: s.Description,
			Priority:    string(s.Priority),
		},
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal board item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	b.log.Debug("board item created", "feature", s.Feature, "status", status)
	return nil
}
