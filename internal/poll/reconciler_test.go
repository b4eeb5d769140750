package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/contractwatch/internal/esi"
	"github.com/hitoshi/contractwatch/internal/model"
	"github.com/hitoshi/contractwatch/internal/store"
)

// fakeStore はテスト用のStore実装。
type fakeStore struct {
	users map[string][]*model.CharacterSession

	persistCalls int
	persistErr   error
	sweptCount   int
	sweepCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string][]*model.CharacterSession)}
}

func (f *fakeStore) Identities() []string {
	ids := make([]string, 0, len(f.users))
	// マップ順依存を避けるため挿入順は使わず、テストは1 requesterのみ扱う
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeStore) Sessions(requesterID string) []*model.CharacterSession {
	return f.users[requesterID]
}

func (f *fakeStore) SessionsCopy(requesterID string) []model.CharacterSession {
	out := make([]model.CharacterSession, 0, len(f.users[requesterID]))
	for _, s := range f.users[requesterID] {
		out = append(out, *s)
	}
	return out
}

func (f *fakeStore) Upsert(requesterID string, session *model.CharacterSession) {
	f.users[requesterID] = append(f.users[requesterID], session)
}

func (f *fakeStore) Remove(requesterID, characterName string) bool { return false }

func (f *fakeStore) ResetLastPolled(requesterID string, now time.Time) int { return 0 }

func (f *fakeStore) CreatePendingLink(nonce string, link model.PendingLink) {}

func (f *fakeStore) ConsumePendingLink(nonce string) (*model.PendingLink, bool) {
	return nil, false
}

func (f *fakeStore) SweepPendingLinks(olderThan time.Time) int {
	f.sweepCalls++
	return f.sweptCount
}

func (f *fakeStore) Persist() error {
	f.persistCalls++
	return f.persistErr
}

var _ store.Store = (*fakeStore)(nil)

// fakeFetcher はテスト用のContractFetcher実装。
type fakeFetcher struct {
	contractsFunc func(ctx context.Context, accessToken string, characterID int64) ([]esi.Contract, error)
	detailFunc    func(ctx context.Context, accessToken string, characterID, contractID int64) (*esi.Contract, error)
}

func (f *fakeFetcher) Contracts(ctx context.Context, accessToken string, characterID int64) ([]esi.Contract, error) {
	if f.contractsFunc != nil {
		return f.contractsFunc(ctx, accessToken, characterID)
	}
	return nil, nil
}

func (f *fakeFetcher) ContractDetail(ctx context.Context, accessToken string, characterID, contractID int64) (*esi.Contract, error) {
	if f.detailFunc != nil {
		return f.detailFunc(ctx, accessToken, characterID, contractID)
	}
	return nil, errors.New("detail not configured")
}

// fakeTokens はテスト用のTokenManager実装。
type fakeTokens struct {
	ensureFunc func(ctx context.Context, session *model.CharacterSession) (bool, error)
}

func (f *fakeTokens) EnsureFresh(ctx context.Context, session *model.CharacterSession) (bool, error) {
	if f.ensureFunc != nil {
		return f.ensureFunc(ctx, session)
	}
	return false, nil
}

// fakeNotifier はテスト用のnotify.Notifier実装。
type fakeNotifier struct {
	transitionErr error
	delivered     []model.Transition
	channels      []string
}

func (f *fakeNotifier) NotifyTransition(ctx context.Context, channel, requesterID, characterName string, event model.Transition) error {
	f.delivered = append(f.delivered, event)
	f.channels = append(f.channels, channel)
	return f.transitionErr
}

func (f *fakeNotifier) NotifyLinked(ctx context.Context, channel, requesterID, characterName string) error {
	return nil
}

// fakeRecorder はテスト用のRecorder実装。
type fakeRecorder struct {
	cycles         int
	polled         int
	skipped        map[string]int
	transitions    map[string]int
	notifyFailures int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		skipped:     make(map[string]int),
		transitions: make(map[string]int),
	}
}

func (f *fakeRecorder) RecordCycle(duration time.Duration)    { f.cycles++ }
func (f *fakeRecorder) RecordSessionPolled()                  { f.polled++ }
func (f *fakeRecorder) RecordSessionSkipped(reason string)    { f.skipped[reason]++ }
func (f *fakeRecorder) RecordTransition(kind string)          { f.transitions[kind]++ }
func (f *fakeRecorder) RecordNotifyFailure()                  { f.notifyFailures++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type reconcilerFixture struct {
	store    *fakeStore
	fetcher  *fakeFetcher
	tokens   *fakeTokens
	notifier *fakeNotifier
	recorder *fakeRecorder
	rec      *Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		store:    newFakeStore(),
		fetcher:  &fakeFetcher{},
		tokens:   &fakeTokens{},
		notifier: &fakeNotifier{},
		recorder: newFakeRecorder(),
	}
	f.rec = NewReconciler(
		f.store, f.fetcher, f.tokens, f.notifier, f.recorder,
		testLogger(), 15*time.Minute,
	)
	return f
}

func pollSession() *model.CharacterSession {
	return &model.CharacterSession{
		CharacterID:   100,
		CharacterName: "Pilot One",
		AccessToken:   "access-token",
		NotifyChannel: "https://discord.com/api/webhooks/1/abc",
		ExpiresAt:     time.Now().Add(20 * time.Minute),
	}
}

// TestRunCycle_AcceptedTransitionNotified は受諾遷移が検出され、
// 通知・スナップショット更新・永続化が行われることをテストする。
func TestRunCycle_AcceptedTransitionNotified(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Title: "Haul to Jita", Status: model.ContractStatusOutstanding},
	}
	f.store.Upsert("user1", session)

	acceptedAt := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		return []esi.Contract{
			{ContractID: 1, Status: "in_progress", DateAccepted: timePtr(acceptedAt)},
		}, nil
	}

	f.rec.RunCycle(context.Background())

	if len(f.notifier.delivered) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(f.notifier.delivered))
	}
	event := f.notifier.delivered[0]
	if event.Kind != model.TransitionAccepted {
		t.Errorf("event kind = %v, want accepted", event.Kind)
	}
	if event.ContractID != 1 || event.Title != "Haul to Jita" {
		t.Errorf("event = %+v, want contract 1 with title", event)
	}
	if !event.At.Equal(acceptedAt) {
		t.Errorf("event At = %v, want %v", event.At, acceptedAt)
	}
	if event.ID == "" {
		t.Error("event ID should be set")
	}
	if f.notifier.channels[0] != session.NotifyChannel {
		t.Errorf("delivered to channel %q, want session NotifyChannel", f.notifier.channels[0])
	}

	if len(session.TrackedContracts) != 1 || session.TrackedContracts[0].Status != model.ContractStatusInProgress {
		t.Errorf("TrackedContracts = %+v, want promoted snapshot", session.TrackedContracts)
	}
	if session.LastPolled.IsZero() {
		t.Error("LastPolled should be updated")
	}
	if f.store.persistCalls == 0 {
		t.Error("store should be persisted after reconciling the session")
	}
	if f.recorder.polled != 1 {
		t.Errorf("RecordSessionPolled count = %d, want 1", f.recorder.polled)
	}
	if f.recorder.transitions["accepted"] != 1 {
		t.Errorf("transition metric = %v, want accepted=1", f.recorder.transitions)
	}
	if f.recorder.cycles != 1 {
		t.Errorf("RecordCycle count = %d, want 1", f.recorder.cycles)
	}
}

// TestRunCycle_RefreshFailureSkipsSession はトークンリフレッシュに失敗した
// セッションがスキップされ、コントラクト取得が行われないことをテストする。
func TestRunCycle_RefreshFailureSkipsSession(t *testing.T) {
	f := newReconcilerFixture()
	f.store.Upsert("user1", pollSession())

	f.tokens.ensureFunc = func(ctx context.Context, session *model.CharacterSession) (bool, error) {
		return false, errors.New("network down")
	}
	fetchCalled := false
	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		fetchCalled = true
		return nil, nil
	}

	f.rec.RunCycle(context.Background())

	if fetchCalled {
		t.Error("contracts should not be fetched when refresh fails")
	}
	if f.recorder.skipped["refresh_failed"] != 1 {
		t.Errorf("skipped metric = %v, want refresh_failed=1", f.recorder.skipped)
	}
	if f.recorder.polled != 0 {
		t.Errorf("RecordSessionPolled count = %d, want 0", f.recorder.polled)
	}
}

// TestRunCycle_RefreshedTokenPersistedBeforeFetch はリフレッシュ成功時に
// フェッチ前の時点で永続化されることをテストする。
func TestRunCycle_RefreshedTokenPersistedBeforeFetch(t *testing.T) {
	f := newReconcilerFixture()
	f.store.Upsert("user1", pollSession())

	f.tokens.ensureFunc = func(ctx context.Context, session *model.CharacterSession) (bool, error) {
		return true, nil
	}

	var persistsAtFetch int
	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		persistsAtFetch = f.store.persistCalls
		return nil, nil
	}

	f.rec.RunCycle(context.Background())

	if persistsAtFetch == 0 {
		t.Error("refreshed token should be persisted before fetching contracts")
	}
}

// TestRunCycle_FetchFailureSkipsSession はコントラクト取得失敗時に
// セッションがスキップされ、スナップショットが変更されないことをテストする。
func TestRunCycle_FetchFailureSkipsSession(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Status: model.ContractStatusOutstanding},
	}
	f.store.Upsert("user1", session)

	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		return nil, errors.New("esi unavailable")
	}

	f.rec.RunCycle(context.Background())

	if f.recorder.skipped["fetch_failed"] != 1 {
		t.Errorf("skipped metric = %v, want fetch_failed=1", f.recorder.skipped)
	}
	if len(session.TrackedContracts) != 1 {
		t.Errorf("TrackedContracts should be unchanged on fetch failure, got %+v", session.TrackedContracts)
	}
	if len(f.notifier.delivered) != 0 {
		t.Errorf("no events should be delivered on fetch failure, got %d", len(f.notifier.delivered))
	}
}

// TestRunCycle_AbsentResolvedAsFinished は一覧から消えたコントラクトの
// 詳細フェッチがfinishedを報告した場合の遷移をテストする。
func TestRunCycle_AbsentResolvedAsFinished(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Title: "Haul to Jita", Status: model.ContractStatusInProgress},
	}
	f.store.Upsert("user1", session)

	completedAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	f.fetcher.detailFunc = func(ctx context.Context, token string, characterID, contractID int64) (*esi.Contract, error) {
		return &esi.Contract{
			ContractID:    contractID,
			Status:        "finished",
			DateCompleted: timePtr(completedAt),
		}, nil
	}

	f.rec.RunCycle(context.Background())

	if len(f.notifier.delivered) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(f.notifier.delivered))
	}
	event := f.notifier.delivered[0]
	if event.Kind != model.TransitionFinished {
		t.Errorf("event kind = %v, want finished", event.Kind)
	}
	if !event.At.Equal(completedAt) {
		t.Errorf("event At = %v, want DateCompleted %v", event.At, completedAt)
	}
	if len(session.TrackedContracts) != 0 {
		t.Errorf("terminal contract should be removed, got %+v", session.TrackedContracts)
	}
}

// TestRunCycle_AbsentResolvedAsRejected は詳細フェッチがrejectedを
// 報告した場合の遷移をテストする。
func TestRunCycle_AbsentResolvedAsRejected(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Status: model.ContractStatusOutstanding},
	}
	f.store.Upsert("user1", session)

	expiredAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	f.fetcher.detailFunc = func(ctx context.Context, token string, characterID, contractID int64) (*esi.Contract, error) {
		return &esi.Contract{
			ContractID:  contractID,
			Status:      "rejected",
			DateExpired: timePtr(expiredAt),
		}, nil
	}

	f.rec.RunCycle(context.Background())

	if len(f.notifier.delivered) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(f.notifier.delivered))
	}
	event := f.notifier.delivered[0]
	if event.Kind != model.TransitionRejected {
		t.Errorf("event kind = %v, want rejected", event.Kind)
	}
	if !event.At.Equal(expiredAt) {
		t.Errorf("event At = %v, want DateExpired %v", event.At, expiredAt)
	}
}

// TestRunCycle_DetailFetchErrorFallsBackToFinished は詳細フェッチが失敗した場合に
// 現在時刻を完了時刻としたfinishedにフォールバックすることをテストする。
func TestRunCycle_DetailFetchErrorFallsBackToFinished(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Status: model.ContractStatusInProgress},
	}
	f.store.Upsert("user1", session)

	f.fetcher.detailFunc = func(ctx context.Context, token string, characterID, contractID int64) (*esi.Contract, error) {
		return nil, errors.New("esi detail unavailable")
	}

	before := time.Now()
	f.rec.RunCycle(context.Background())
	after := time.Now()

	if len(f.notifier.delivered) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(f.notifier.delivered))
	}
	event := f.notifier.delivered[0]
	if event.Kind != model.TransitionFinished {
		t.Errorf("event kind = %v, want finished fallback", event.Kind)
	}
	if event.At.Before(before) || event.At.After(after) {
		t.Errorf("event At = %v, want time between %v and %v", event.At, before, after)
	}
	if len(session.TrackedContracts) != 0 {
		t.Errorf("contract should still be removed on fallback, got %+v", session.TrackedContracts)
	}
}

// TestRunCycle_DetailNonTerminalRemovedSilently は詳細が終端以外を報告した場合に
// イベントなしで監視対象から外れることをテストする。
func TestRunCycle_DetailNonTerminalRemovedSilently(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Status: model.ContractStatusInProgress},
	}
	f.store.Upsert("user1", session)

	f.fetcher.detailFunc = func(ctx context.Context, token string, characterID, contractID int64) (*esi.Contract, error) {
		return &esi.Contract{ContractID: contractID, Status: "in_progress"}, nil
	}

	f.rec.RunCycle(context.Background())

	if len(f.notifier.delivered) != 0 {
		t.Errorf("expected no delivered events, got %d", len(f.notifier.delivered))
	}
	if len(session.TrackedContracts) != 0 {
		t.Errorf("absent contract should be removed from snapshot, got %+v", session.TrackedContracts)
	}
}

// TestRunCycle_NotifyFailureDoesNotRollback は通知失敗時も
// スナップショット更新と永続化が行われることをテストする。
func TestRunCycle_NotifyFailureDoesNotRollback(t *testing.T) {
	f := newReconcilerFixture()

	session := pollSession()
	session.TrackedContracts = []model.TrackedContract{
		{ID: 1, Status: model.ContractStatusOutstanding},
	}
	f.store.Upsert("user1", session)

	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		return []esi.Contract{{ContractID: 1, Status: "in_progress"}}, nil
	}
	f.notifier.transitionErr = errors.New("webhook down")

	f.rec.RunCycle(context.Background())

	if f.recorder.notifyFailures != 1 {
		t.Errorf("notify failure metric = %d, want 1", f.recorder.notifyFailures)
	}
	if session.TrackedContracts[0].Status != model.ContractStatusInProgress {
		t.Error("snapshot should be updated even when delivery fails")
	}
	if f.store.persistCalls == 0 {
		t.Error("store should be persisted even when delivery fails")
	}
	if f.recorder.polled != 1 {
		t.Errorf("RecordSessionPolled count = %d, want 1", f.recorder.polled)
	}
}

// TestRunCycle_SweepsPendingLinks は期限切れPendingLinkの掃除と
// 掃除後の永続化が行われることをテストする。
func TestRunCycle_SweepsPendingLinks(t *testing.T) {
	f := newReconcilerFixture()
	f.store.sweptCount = 2

	f.rec.RunCycle(context.Background())

	if f.store.sweepCalls != 1 {
		t.Errorf("SweepPendingLinks calls = %d, want 1", f.store.sweepCalls)
	}
	if f.store.persistCalls == 0 {
		t.Error("store should be persisted after sweeping pending links")
	}
}

// TestRunCycle_CancelledContextStopsEarly はキャンセル済みコンテキストで
// セッション処理が行われないことをテストする。
func TestRunCycle_CancelledContextStopsEarly(t *testing.T) {
	f := newReconcilerFixture()
	f.store.Upsert("user1", pollSession())

	fetchCalled := false
	f.fetcher.contractsFunc = func(ctx context.Context, token string, characterID int64) ([]esi.Contract, error) {
		fetchCalled = true
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.rec.RunCycle(ctx)

	if fetchCalled {
		t.Error("sessions should not be processed with a cancelled context")
	}
}
