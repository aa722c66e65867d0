package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin JSON client for the chatbot REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "unreadable response body"}
	}
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// IndexText indexes chapter text; async queues it instead.
func (c *Client) IndexText(ctx context.Context, courseID, chapterID, text string, async bool) (map[string]interface{}, error) {
	path := "/api/v1/chatbot/index-document"
	if async {
		path += "?async=true"
	}
	var out map[string]interface{}
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{
		"course_id": courseID, "chapter_id": chapterID, "text": text,
	}, &out)
	return out, err
}

// IndexFile uploads a document for server-side text extraction.
func (c *Client) IndexFile(ctx context.Context, courseID, chapterID, fileName string, r io.Reader) (map[string]interface{}, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("course_id", courseID)
	_ = mw.WriteField("chapter_id", chapterID)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chatbot/index-file", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out map[string]interface{}
	return out, c.send(req, &out)
}

// RemoveChapter deletes a chapter from the index.
func (c *Client) RemoveChapter(ctx context.Context, courseID, chapterID string) (int, error) {
	var out struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	path := fmt.Sprintf("/api/v1/chatbot/chapters/%s/%s", url.PathEscape(courseID), url.PathEscape(chapterID))
	err := c.doJSON(ctx, http.MethodDelete, path, nil, &out)
	return out.ChunksRemoved, err
}

// Source is a cited chunk in an answer.
type Source struct {
	CourseID  string  `json:"course_id"`
	ChapterID string  `json:"chapter_id"`
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
}

// Answer is the server's reply to a question.
type Answer struct {
	SessionID        string   `json:"session_id"`
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Degraded         bool     `json:"degraded,omitempty"`
}

// AskParams are the inputs of Ask.
type AskParams struct {
	SessionID string `json:"session_id,omitempty"`
	StudentID string `json:"student_id,omitempty"`
	Question  string `json:"question"`
	CourseID  string `json:"course_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
}

// Ask sends a question.
func (c *Client) Ask(ctx context.Context, p AskParams) (*Answer, error) {
	var out Answer
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chatbot/ask", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Hit is a search result.
type Hit struct {
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
	CourseID  string  `json:"course_id"`
	ChapterID string  `json:"chapter_id"`
	Sequence  int     `json:"chunk_sequence"`
}

// Search runs a retrieval-only query.
func (c *Client) Search(ctx context.Context, query, courseID, chapterID string, topK int) ([]Hit, error) {
	q := url.Values{}
	q.Set("query", query)
	if courseID != "" {
		q.Set("course_id", courseID)
	}
	if chapterID != "" {
		q.Set("chapter_id", chapterID)
	}
	if topK > 0 {
		q.Set("top_k", fmt.Sprint(topK))
	}
	var out struct {
		Results []Hit `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/chatbot/search?"+q.Encode(), nil, &out)
	return out.Results, err
}

// Message is one turn of a session history.
type Message struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Sources    []Source  `json:"sources,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// History returns the messages of a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/chatbot/history/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// Stats returns index statistics as reported by the server.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/chatbot/vector-stats", nil, &out)
	return out, err
}
