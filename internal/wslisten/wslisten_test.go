package wslisten

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nowplaying-fm/ingest-engine/internal/config"
	"github.com/nowplaying-fm/ingest-engine/internal/model"
	"github.com/nowplaying-fm/ingest-engine/internal/store"
	"github.com/nowplaying-fm/ingest-engine/internal/writer"
)

func TestBuildSubscribeMessageVerbatimPayload(t *testing.T) {
	out, err := BuildSubscribeMessage(map[string]string{"subscribe_payload": `{"cmd":"go"}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"cmd":"go"}` {
		t.Fatalf("expected verbatim payload, got %s", out)
	}
}

func TestBuildSubscribeMessageServiceID(t *testing.T) {
	out, err := BuildSubscribeMessage(map[string]string{"serviceId": "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["action"] != "subscribe" || decoded["serviceId"] != "abc123" {
		t.Fatalf("unexpected subscribe message: %+v", decoded)
	}
}

func TestBuildSubscribeMessageFailsWithoutHints(t *testing.T) {
	if _, err := BuildSubscribeMessage(nil); err == nil {
		t.Fatal("expected error when no subscribe hint is present")
	}
}

// fakeStore tracks connection state and events for end-to-end listener tests.
type fakeStore struct {
	conn   model.Connection
	events []model.RawNowPlayingEvent
}

func (f *fakeStore) ListEnabledConnections(ctx context.Context) ([]model.Connection, error) {
	return []model.Connection{f.conn}, nil
}
func (f *fakeStore) GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	c := f.conn
	return &c, nil
}
func (f *fakeStore) GetMapping(ctx context.Context, id uuid.UUID) (*model.PayloadMapping, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) LatestEventForConnection(ctx context.Context, connectionID uuid.UUID) (*model.RawNowPlayingEvent, error) {
	if len(f.events) == 0 {
		return nil, nil
	}
	last := f.events[len(f.events)-1]
	return &last, nil
}
func (f *fakeStore) InsertEvent(ctx context.Context, e *model.RawNowPlayingEvent) error {
	f.events = append(f.events, *e)
	return nil
}
func (f *fakeStore) UpdateConnectionPollingState(ctx context.Context, id uuid.UUID, update store.PollingStateUpdate) error {
	if update.LastStatus != nil {
		f.conn.LastStatus = *update.LastStatus
	}
	if update.LastError != nil {
		f.conn.LastError = *update.LastError
	}
	return nil
}

func TestListenerConnectsSubscribesAndWritesEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg

		conn.WriteMessage(websocket.TextMessage, []byte(`{"artist":"Aphex Twin","title":"Windowlicker"}`))

		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	connID := uuid.New()
	fs := &fakeStore{
		conn: model.Connection{
			ID:             connID,
			StationID:      uuid.New(),
			ConnectionType: model.ConnectionWSJSON,
			URL:            wsURL,
			Enabled:        true,
			HeadersJSON:    map[string]string{"serviceId": "svc-1"},
		},
	}
	w := writer.New(fs, nil)
	l := New(fs, w, connID, nil, config.WSListenerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.Run(ctx)

	select {
	case msg := <-received:
		var decoded map[string]string
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("subscribe message invalid JSON: %v", err)
		}
		if decoded["serviceId"] != "svc-1" {
			t.Fatalf("unexpected subscribe message: %s", msg)
		}
	default:
		t.Fatal("server never received subscribe message")
	}

	if len(fs.events) != 1 {
		t.Fatalf("expected 1 event written, got %d", len(fs.events))
	}
	if *fs.events[0].ReportedArtist != "Aphex Twin" {
		t.Fatalf("unexpected artist: %v", fs.events[0].ReportedArtist)
	}
}
