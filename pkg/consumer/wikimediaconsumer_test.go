package consumer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"wikistream/pkg/models"
)

// Mock http.RoundTripper to intercept network calls and replace with test responses
type mockRoundTripper struct {
	roundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.roundTripFunc(req)
}

func newTestConsumer(t *testing.T, rt func(req *http.Request) (*http.Response, error), opts ...Option) *WikimediaConsumer {
	t.Helper()
	opts = append(opts, WithHTTPClient(&http.Client{Transport: &mockRoundTripper{roundTripFunc: rt}}))
	c, err := NewWikimediaConsumer(DefaultStreamURL, opts...)
	if err != nil {
		t.Fatalf("NewWikimediaConsumer() error = %v", err)
	}
	return c
}

func TestNewWikimediaConsumer(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "Default stream", url: DefaultStreamURL},
		{name: "Plain http", url: "http://localhost:8080/stream"},
		{name: "Missing scheme", url: "stream.wikimedia.org/v2/stream/recentchange", wantErr: true},
		{name: "Unsupported scheme", url: "ftp://stream.wikimedia.org", wantErr: true},
		{name: "Empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWikimediaConsumer(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWikimediaConsumer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func() func(req *http.Request) (*http.Response, error)
		wantErr   bool
		wantMsg   string
	}{
		{
			name: "Successful connection (200 OK)",
			setupMock: func() func(req *http.Request) (*http.Response, error) {
				return func(req *http.Request) (*http.Response, error) {
					if req.Header.Get("User-Agent") == "" {
						return nil, errors.New("missing user agent")
					}
					if req.Header.Get("Accept") != "text/event-stream" {
						return nil, errors.New("missing accept header")
					}
					return &http.Response{
						StatusCode: 200,
						Body:       io.NopCloser(strings.NewReader("")),
					}, nil
				}
			},
			wantErr: false,
		},
		{
			name: "Error connecting",
			setupMock: func() func(req *http.Request) (*http.Response, error) {
				return func(req *http.Request) (*http.Response, error) {
					return nil, errors.New("connection refused")
				}
			},
			wantErr: true,
		},
		{
			name: "Forbidden (403)",
			setupMock: func() func(req *http.Request) (*http.Response, error) {
				return func(req *http.Request) (*http.Response, error) {
					return &http.Response{
						StatusCode: 403,
						Status:     "403 Forbidden",
						Body:       io.NopCloser(strings.NewReader("")),
					}, nil
				}
			},
			wantErr: true,
			wantMsg: "server response: 403 Forbidden",
		},
		{
			name: "Server error (500)",
			setupMock: func() func(req *http.Request) (*http.Response, error) {
				return func(req *http.Request) (*http.Response, error) {
					return &http.Response{
						StatusCode: 500,
						Status:     "500 Internal Server Error",
						Body:       io.NopCloser(strings.NewReader("")),
					}, nil
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := newTestConsumer(t, tt.setupMock())
			stream, err := consumer.Connect(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Connect() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("Connect() error = %q, want %q", err.Error(), tt.wantMsg)
			}
			if !tt.wantErr {
				if stream == nil {
					t.Fatal("Connect() returned nil stream on success")
				}
				stream.Close()
			}
		})
	}
}

func TestConnectHeaders(t *testing.T) {
	var got http.Header
	rt := func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	consumer := newTestConsumer(t, rt,
		WithUserAgent("test-agent/2.0"),
		WithHeaders(map[string]string{"X-Client": "wikistream-test"}),
	)
	stream, err := consumer.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer stream.Close()

	if ua := got.Get("User-Agent"); ua != "test-agent/2.0" {
		t.Errorf("User-Agent: got %q, want %q", ua, "test-agent/2.0")
	}
	if v := got.Get("X-Client"); v != "wikistream-test" {
		t.Errorf("X-Client: got %q, want %q", v, "wikistream-test")
	}
}

func TestStream(t *testing.T) {
	tests := []struct {
		name      string
		inputData string
		want      []models.RawMessage
	}{
		{
			name: "Wikimedia framing",
			inputData: ":ok\n\n" +
				"event: message\n" +
				"id: [{\"topic\":\"eqiad.mediawiki.recentchange\",\"offset\":1}]\n" +
				"data: {\"type\":\"edit\"}\n\n" +
				"event: message\n" +
				"data: {\"type\":\"log\"}\n\n",
			want: []models.RawMessage{
				{Event: "message", Data: `{"type":"edit"}`, ID: `[{"topic":"eqiad.mediawiki.recentchange","offset":1}]`},
				{Event: "message", Data: `{"type":"log"}`, ID: `[{"topic":"eqiad.mediawiki.recentchange","offset":1}]`},
			},
		},
		{
			name:      "Missing event field defaults to message",
			inputData: "data: hello\n\n",
			want:      []models.RawMessage{{Event: "message", Data: "hello"}},
		},
		{
			name:      "Custom event label",
			inputData: "event: error\ndata: upstream closed\n\n",
			want:      []models.RawMessage{{Event: "error", Data: "upstream closed"}},
		},
		{
			name:      "Multi-line data is joined",
			inputData: "data: first\ndata: second\ndata:third\n\n",
			want:      []models.RawMessage{{Event: "message", Data: "first\nsecond\nthird"}},
		},
		{
			name:      "CRLF line endings",
			inputData: "event: message\r\ndata: crlf\r\n\r\n",
			want:      []models.RawMessage{{Event: "message", Data: "crlf"}},
		},
		{
			name:      "Event without data is not dispatched",
			inputData: "event: message\n\nretry: 1000\n\ndata: kept\n\n",
			want:      []models.RawMessage{{Event: "message", Data: "kept"}},
		},
		{
			name:      "Pending event at end of body",
			inputData: "data: one\n\ndata: two",
			want: []models.RawMessage{
				{Event: "message", Data: "one"},
				{Event: "message", Data: "two"},
			},
		},
		{
			name:      "Empty stream",
			inputData: "",
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newEventStream(io.NopCloser(strings.NewReader(tt.inputData)))
			defer stream.Close()
			var got []models.RawMessage
			for stream.Next() {
				got = append(got, stream.Message())
			}
			if err := stream.Err(); err != nil {
				t.Fatalf("Err() = %v, want nil", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("messages: got %d (%+v), want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("message %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			if stream.Next() {
				t.Error("Next() returned true after the stream ended")
			}
		})
	}
}

type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

func TestStreamReadError(t *testing.T) {
	stream := newEventStream(io.NopCloser(&failingReader{data: "data: before\n\n"}))
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("Next() = false, want the event sent before the failure (err %v)", stream.Err())
	}
	if got := stream.Message().Data; got != "before" {
		t.Errorf("Data: got %q, want %q", got, "before")
	}
	if stream.Next() {
		t.Fatal("Next() = true after read failure")
	}
	if stream.Err() == nil {
		t.Fatal("Err() = nil, want read error")
	}
}
