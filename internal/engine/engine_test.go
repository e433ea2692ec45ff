package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"live-collab-sync/internal/presence"
	"live-collab-sync/internal/revisions"
	"live-collab-sync/internal/shares"
	"live-collab-sync/internal/shares/mocks"
)

type recordingSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRecordingSender() *recordingSender {
	return &recordingSender{frames: make(map[string][][]byte)}
}

func (s *recordingSender) Send(connId string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[connId] = append(s.frames[connId], data)
	return true
}

// take returns and clears every envelope delivered to connId.
func (s *recordingSender) take(t *testing.T, connId string) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, raw := range s.frames[connId] {
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	delete(s.frames, connId)
	return out
}

type recordingRelay struct {
	mu        sync.Mutex
	published []string
}

func (r *recordingRelay) Publish(_ context.Context, room string, data []byte, exceptConn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var env Envelope
	_ = json.Unmarshal(data, &env)
	r.published = append(r.published, room+"/"+env.Type+"/"+exceptConn)
	return nil
}

type fixture struct {
	engine *Engine
	sender *recordingSender
	docs   *revisions.MemoryStore
	links  *shares.MemoryStore
	reg    *presence.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sender: newRecordingSender(),
		docs:   revisions.NewMemoryStore(),
		links:  shares.NewMemoryStore(),
		reg:    presence.NewRegistry(),
	}
	f.engine = New(f.links, f.docs, f.reg, f.sender, opts...)
	return f
}

func (f *fixture) document(t *testing.T, content string, canEdit bool) (*revisions.Document, string) {
	t.Helper()
	doc, err := f.docs.CreateDocument(t.Context(), "notes", content, nil)
	require.NoError(t, err)
	link, err := f.links.Create(t.Context(), doc.ID, canEdit, nil)
	require.NoError(t, err)
	return doc, link.Token
}

func (f *fixture) send(t *testing.T, connId, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	require.NoError(t, err)
	f.engine.Handle(t.Context(), connId, frame)
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func requireError(t *testing.T, envs []Envelope, code string) {
	t.Helper()
	require.Len(t, envs, 1)
	require.Equal(t, TypeError, envs[0].Type)
	assert.Equal(t, code, decode[ErrorPayload](t, envs[0]).Code)
}

func TestJoin_BroadcastsPresenceToEveryMember(t *testing.T) {
	f := newFixture(t)
	_, token := f.document(t, "", true)

	f.send(t, "c1", TypeJoin, JoinRequest{Token: token, Username: "ann"})
	envs := f.sender.take(t, "c1")
	require.Len(t, envs, 1)
	assert.Equal(t, []string{"ann"}, decode[PresencePayload](t, envs[0]).Users)

	f.send(t, "c2", TypeJoin, JoinRequest{Token: token})
	for _, conn := range []string{"c1", "c2"} {
		envs := f.sender.take(t, conn)
		require.Len(t, envs, 1, conn)
		assert.Equal(t, TypePresence, envs[0].Type)
		assert.Equal(t, []string{"ann", "guest"}, decode[PresencePayload](t, envs[0]).Users)
	}
}

func TestEdit_AcceptConflictResync(t *testing.T) {
	f := newFixture(t)
	doc, token := f.document(t, "A", true)

	f.send(t, "x", TypeJoin, JoinRequest{Token: token, Username: "xena"})
	f.send(t, "y", TypeJoin, JoinRequest{Token: token, Username: "yuri"})
	f.sender.take(t, "x")
	f.sender.take(t, "y")

	f.send(t, "x", TypeEdit, EditRequest{Token: token, Content: "AB", BaseVersion: 1, Username: "xena"})
	for _, conn := range []string{"x", "y"} {
		envs := f.sender.take(t, conn)
		require.Len(t, envs, 1, conn)
		require.Equal(t, TypeContent, envs[0].Type)
		assert.Equal(t, ContentPayload{Content: "AB", Version: 2, Editor: "xena"}, decode[ContentPayload](t, envs[0]))
	}

	f.send(t, "y", TypeEdit, EditRequest{Token: token, Content: "AC", BaseVersion: 1, Username: "yuri"})
	assert.Empty(t, f.sender.take(t, "x"))
	envs := f.sender.take(t, "y")
	require.Len(t, envs, 1)
	require.Equal(t, TypeResync, envs[0].Type)
	assert.Equal(t, ResyncPayload{Content: "AB", Version: 2}, decode[ResyncPayload](t, envs[0]))

	f.send(t, "y", TypeEdit, EditRequest{Token: token, Content: "ABC", BaseVersion: 2, Username: "yuri"})
	for _, conn := range []string{"x", "y"} {
		envs := f.sender.take(t, conn)
		require.Len(t, envs, 1, conn)
		assert.Equal(t, ContentPayload{Content: "ABC", Version: 3, Editor: "yuri"}, decode[ContentPayload](t, envs[0]))
	}

	history, err := f.docs.Revisions(t.Context(), doc.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "ABC", history[0].Content)
	assert.Equal(t, 3, history[0].Version)
}

func TestEdit_ViewOnlyShareIsForbidden(t *testing.T) {
	f := newFixture(t)
	doc, token := f.document(t, "A", false)

	f.send(t, "viewer", TypeJoin, JoinRequest{Token: token})
	f.send(t, "other", TypeJoin, JoinRequest{Token: token})
	f.sender.take(t, "viewer")
	f.sender.take(t, "other")

	f.send(t, "viewer", TypeEdit, EditRequest{Token: token, Content: "hacked", BaseVersion: 1})
	requireError(t, f.sender.take(t, "viewer"), CodeForbidden)
	assert.Empty(t, f.sender.take(t, "other"))

	version, err := f.docs.LatestVersion(t.Context(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestInvalidToken(t *testing.T) {
	f := newFixture(t)

	f.send(t, "c1", TypeJoin, JoinRequest{Token: "nope"})
	requireError(t, f.sender.take(t, "c1"), CodeInvalidToken)
	assert.Empty(t, f.reg.Rooms("c1"))

	f.send(t, "c1", TypeEdit, EditRequest{Token: "nope", Content: "x", BaseVersion: 1})
	requireError(t, f.sender.take(t, "c1"), CodeInvalidToken)

	f.send(t, "c1", TypeCursor, CursorRequest{Token: "nope", Index: 3})
	requireError(t, f.sender.take(t, "c1"), CodeInvalidToken)
}

func TestEdit_RevokedTokenStopsWorking(t *testing.T) {
	f := newFixture(t)
	_, token := f.document(t, "A", true)

	f.send(t, "c1", TypeJoin, JoinRequest{Token: token})
	f.sender.take(t, "c1")

	require.NoError(t, f.links.Revoke(t.Context(), token))

	f.send(t, "c1", TypeEdit, EditRequest{Token: token, Content: "AB", BaseVersion: 1})
	requireError(t, f.sender.take(t, "c1"), CodeInvalidToken)
}

func TestEdit_ToggledShareTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	_, token := f.document(t, "A", true)

	_, err := f.links.ToggleEdit(t.Context(), token)
	require.NoError(t, err)

	f.send(t, "c1", TypeEdit, EditRequest{Token: token, Content: "AB", BaseVersion: 1})
	requireError(t, f.sender.take(t, "c1"), CodeForbidden)
}

func TestEdit_DocumentMissing(t *testing.T) {
	f := newFixture(t)
	doc, token := f.document(t, "A", true)
	require.NoError(t, f.docs.DeleteDocument(t.Context(), doc.ID))

	f.send(t, "c1", TypeEdit, EditRequest{Token: token, Content: "AB", BaseVersion: 1})
	requireError(t, f.sender.take(t, "c1"), CodeDocumentMissing)
}

func TestHandle_Malformed(t *testing.T) {
	f := newFixture(t)

	f.engine.Handle(t.Context(), "c1", []byte("{not json"))
	requireError(t, f.sender.take(t, "c1"), CodeMalformed)

	f.engine.Handle(t.Context(), "c1", []byte(`{"type":"shout","payload":{}}`))
	requireError(t, f.sender.take(t, "c1"), CodeMalformed)

	f.engine.Handle(t.Context(), "c1", []byte(`{"type":"edit","payload":{"base_version":"one"}}`))
	requireError(t, f.sender.take(t, "c1"), CodeMalformed)

	for _, msgType := range []string{TypeJoin, TypeLeave, TypeCursor, TypeEdit} {
		f.engine.Handle(t.Context(), "c1", []byte(fmt.Sprintf(`{"type":%q}`, msgType)))
		requireError(t, f.sender.take(t, "c1"), CodeMalformed)
	}
}

func TestCursor_ExcludesSender(t *testing.T) {
	relay := &recordingRelay{}
	f := newFixture(t, WithRelay(relay))
	_, token := f.document(t, "", false)

	f.send(t, "c1", TypeJoin, JoinRequest{Token: token, Username: "ann"})
	f.send(t, "c2", TypeJoin, JoinRequest{Token: token, Username: "bob"})
	f.sender.take(t, "c1")
	f.sender.take(t, "c2")

	f.send(t, "c1", TypeCursor, CursorRequest{Token: token, Index: 7, Username: "ann"})
	assert.Empty(t, f.sender.take(t, "c1"))
	envs := f.sender.take(t, "c2")
	require.Len(t, envs, 1)
	assert.Equal(t, CursorPayload{Index: 7, User: "ann"}, decode[CursorPayload](t, envs[0]))

	assert.Equal(t, []string{token + "/cursor/c1"}, relay.published)
}

func TestLeaveAndDisconnect_UpdatePresence(t *testing.T) {
	f := newFixture(t)
	_, tokenA := f.document(t, "", true)
	_, tokenB := f.document(t, "", true)

	f.send(t, "c1", TypeJoin, JoinRequest{Token: tokenA, Username: "ann"})
	f.send(t, "c1", TypeJoin, JoinRequest{Token: tokenB, Username: "ann"})
	f.send(t, "c2", TypeJoin, JoinRequest{Token: tokenA, Username: "bob"})
	f.send(t, "c3", TypeJoin, JoinRequest{Token: tokenB, Username: "cat"})
	for _, conn := range []string{"c1", "c2", "c3"} {
		f.sender.take(t, conn)
	}

	// leaving a room the connection never joined is silent
	f.send(t, "c2", TypeLeave, LeaveRequest{Token: tokenB})
	assert.Empty(t, f.sender.take(t, "c3"))

	f.engine.Disconnect("c1")
	envs := f.sender.take(t, "c2")
	require.Len(t, envs, 1)
	assert.Equal(t, []string{"bob"}, decode[PresencePayload](t, envs[0]).Users)
	envs = f.sender.take(t, "c3")
	require.Len(t, envs, 1)
	assert.Equal(t, []string{"cat"}, decode[PresencePayload](t, envs[0]).Users)
	assert.Empty(t, f.sender.take(t, "c1"))

	f.send(t, "c2", TypeLeave, LeaveRequest{Token: tokenA})
	assert.Empty(t, f.reg.Roster(tokenA))
}

func TestEdit_NonMemberSenderStillSeesAcceptedContent(t *testing.T) {
	relay := &recordingRelay{}
	f := newFixture(t, WithRelay(relay))
	_, token := f.document(t, "A", true)

	f.send(t, "member", TypeJoin, JoinRequest{Token: token})
	f.sender.take(t, "member")

	f.send(t, "drive-by", TypeEdit, EditRequest{Token: token, Content: "AB", BaseVersion: 1})
	for _, conn := range []string{"member", "drive-by"} {
		envs := f.sender.take(t, conn)
		require.Len(t, envs, 1, conn)
		assert.Equal(t, 2, decode[ContentPayload](t, envs[0]).Version)
	}
	assert.Equal(t, []string{token + "/content/"}, relay.published)
}

func TestEdit_ConcurrentSubmittersHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	doc, token := f.document(t, "base", true)

	const writers = 32
	for i := 0; i < writers; i++ {
		f.send(t, fmt.Sprintf("c%d", i), TypeJoin, JoinRequest{Token: token})
	}
	for i := 0; i < writers; i++ {
		f.sender.take(t, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.send(t, fmt.Sprintf("c%d", i), TypeEdit, EditRequest{
				Token:       token,
				Content:     fmt.Sprintf("edit-%d", i),
				BaseVersion: 1,
			})
		}(i)
	}
	wg.Wait()

	resyncs := 0
	var winner string
	for i := 0; i < writers; i++ {
		for _, env := range f.sender.take(t, fmt.Sprintf("c%d", i)) {
			switch env.Type {
			case TypeContent:
				p := decode[ContentPayload](t, env)
				assert.Equal(t, 2, p.Version)
				if winner == "" {
					winner = p.Content
				}
				assert.Equal(t, winner, p.Content)
			case TypeResync:
				resyncs++
				assert.Equal(t, 2, decode[ResyncPayload](t, env).Version)
			}
		}
	}
	assert.Equal(t, writers-1, resyncs)

	current, err := f.docs.Document(t.Context(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, current.Content)
}

func TestResolverFailureIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)
	sender := newRecordingSender()
	e := New(resolver, revisions.NewMemoryStore(), presence.NewRegistry(), sender)

	resolver.EXPECT().Resolve(gomock.Any(), "tok").Return(shares.Capability{}, errors.New("connection reset"))

	e.Edit(t.Context(), "c1", EditRequest{Token: "tok", Content: "x", BaseVersion: 1})
	requireError(t, sender.take(t, "c1"), CodeInternal)
}

func TestEdit_SurvivesCancelledContext(t *testing.T) {
	f := newFixture(t)
	doc, token := f.document(t, "A", true)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	f.engine.Edit(ctx, "c1", EditRequest{Token: token, Content: "AB", BaseVersion: 1})

	current, err := f.docs.Document(t.Context(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB", current.Content)
}
