package credibility

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(config.CredibilityConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, zap.NewNop())
	return client, server
}

func TestResolveIdentity(t *testing.T) {
	creator := common.HexToAddress("0xAbCd111111111111111111111111111111111111")
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"handle":"mooncat","display_name":"Moon Cat","followers":4200}`))
	})

	profile, err := client.ResolveIdentity(context.Background(), creator)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if gotPath != "/v1/profile/0xabcd111111111111111111111111111111111111" {
		t.Fatalf("expected lowercase address path, got %s", gotPath)
	}
	if profile.Handle != "mooncat" || profile.Followers != 4200 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Address != creator {
		t.Fatalf("expected creator address on profile")
	}
}

func TestResolveIdentityNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.ResolveIdentity(context.Background(), common.Address{0x01})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveIdentityEmptyHandle(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"handle":""}`))
	})

	_, err := client.ResolveIdentity(context.Background(), common.Address{0x01})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty handle, got %v", err)
	}
}

func TestScore(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score/mooncat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"score":71.5}`))
	})

	score, err := client.Score(context.Background(), "mooncat")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score != 71.5 {
		t.Fatalf("expected 71.5, got %v", score)
	}
}

func TestScoreMissingValue(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Score(context.Background(), "mooncat")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing score, got %v", err)
	}
}

func TestScoreServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Score(context.Background(), "mooncat")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
