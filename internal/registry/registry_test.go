package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"

	"github.com/pushhand/pushhand/internal/push"
)

type setCall struct {
	key   string
	value interface{}
	ttl   time.Duration
}

type fakeRedis struct {
	sets   []setCall
	data   map[string]string
	setErr error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.sets = append(f.sets, setCall{key, value, expiration})
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStoreAndRotate(t *testing.T) {
	fr := newFakeRedis()
	r, err := NewRedis(fr, "inst-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if tok, err := r.CurrentToken(ctx); err != nil || tok != "" {
		t.Fatalf("expected no token, got %q %v", tok, err)
	}
	if err := r.StoreToken(ctx, push.FamilyApple, "t1", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.StoreToken(ctx, push.FamilyApple, "t2", "t1"); err != nil {
		t.Fatal(err)
	}
	if tok, _ := r.CurrentToken(ctx); tok != "t2" {
		t.Fatalf("expected t2, got %q", tok)
	}
	if fr.data["pushhand:installation:inst-1:family"] != push.FamilyApple {
		t.Fatalf("family not stored: %v", fr.data)
	}
	stale, err := r.IsStale(ctx, "t1")
	if err != nil || !stale {
		t.Fatalf("expected t1 stale, got %v %v", stale, err)
	}
	if stale, _ := r.IsStale(ctx, "t2"); stale {
		t.Fatal("current token must not be stale")
	}
	last := fr.sets[len(fr.sets)-1]
	if last.key != "pushhand:token:stale:t1" || last.ttl != time.Hour {
		t.Fatalf("unexpected stale marker %+v", last)
	}
}

func TestRedisErrors(t *testing.T) {
	if _, err := NewRedis(nil, "x", 0); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedis(newFakeRedis(), "", 0); err == nil {
		t.Fatal("expected error for empty installation id")
	}
	fr := newFakeRedis()
	fr.setErr = errors.New("READONLY")
	r, _ := NewRedis(fr, "inst", 0)
	if err := r.StoreToken(context.Background(), push.FamilyAndroid, "t", ""); err == nil {
		t.Fatal("expected store error")
	}
}

type topicCall struct {
	op     string
	tokens []string
	topic  string
}

type fakeTopics struct {
	calls    []topicCall
	failures int
	unsubErr error
}

func (f *fakeTopics) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	f.calls = append(f.calls, topicCall{"sub", tokens, topic})
	resp := &messaging.TopicManagementResponse{SuccessCount: len(tokens) - f.failures, FailureCount: f.failures}
	if f.failures > 0 {
		resp.Errors = []*messaging.ErrorInfo{{Index: 0, Reason: "invalid-argument"}}
	}
	return resp, nil
}

func (f *fakeTopics) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	f.calls = append(f.calls, topicCall{"unsub", tokens, topic})
	return &messaging.TopicManagementResponse{SuccessCount: 1}, f.unsubErr
}

func TestFCMTopicsRotation(t *testing.T) {
	ft := &fakeTopics{unsubErr: errors.New("registration-token-not-registered")}
	s, err := NewFCMTopics(ft, "news")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.StoreToken(ctx, push.FamilyAndroid, "a", ""); err != nil {
		t.Fatal(err)
	}
	// unsubscribe failures of the old token are tolerated
	if err := s.StoreToken(ctx, push.FamilyAndroid, "b", "a"); err != nil {
		t.Fatal(err)
	}
	want := []topicCall{{"sub", []string{"a"}, "news"}, {"sub", []string{"b"}, "news"}, {"unsub", []string{"a"}, "news"}}
	if len(ft.calls) != len(want) {
		t.Fatalf("unexpected calls %+v", ft.calls)
	}
	for i := range want {
		if ft.calls[i].op != want[i].op || ft.calls[i].tokens[0] != want[i].tokens[0] || ft.calls[i].topic != "news" {
			t.Fatalf("call %d = %+v, want %+v", i, ft.calls[i], want[i])
		}
	}
}

func TestFCMTopicsRejectsAPNsTokens(t *testing.T) {
	ft := &fakeTopics{}
	s, _ := NewFCMTopics(ft, "news")
	err := s.StoreToken(context.Background(), push.FamilyApple, "apns", "")
	if !errors.Is(err, ErrNotFCMToken) {
		t.Fatalf("expected ErrNotFCMToken, got %v", err)
	}
	if len(ft.calls) != 0 {
		t.Fatal("no topic calls expected for apple tokens")
	}
}

func TestFCMTopicsReportsFailures(t *testing.T) {
	ft := &fakeTopics{failures: 1}
	s, _ := NewFCMTopics(ft, "news")
	if err := s.StoreToken(context.Background(), push.FamilyAndroid, "bad", ""); err == nil {
		t.Fatal("expected failure count to surface as error")
	}
	if _, err := NewFCMTopics(nil, "x"); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewFCMTopics(ft, ""); err == nil {
		t.Fatal("expected error for empty topic")
	}
}
