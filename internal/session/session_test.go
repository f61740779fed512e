package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deoncarlette/AutoMod/internal/archive"
	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/room"
)

const selfUserID int64 = 4721

type mockRoomClient struct {
	mu sync.Mutex

	joinFn       func(channel string) (*room.Channel, error)
	getChannelFn func(channel string) (*room.Channel, error)
	feed         *room.Feed
	feedErr      error

	joinCalls       int
	getChannelCalls int
	audienceReplies int
	acceptInvites   int
	invited         []int64
	promoted        []int64
	messages        []string
	pings           int
	leaves          int
	feedCalls       int
}

func (c *mockRoomClient) UserID() int64 { return selfUserID }

func (c *mockRoomClient) JoinChannel(_ context.Context, channel string) (*room.Channel, error) {
	c.mu.Lock()
	c.joinCalls++
	fn := c.joinFn
	c.mu.Unlock()
	if fn != nil {
		return fn(channel)
	}
	return nil, errors.New("no join behavior configured")
}

func (c *mockRoomClient) GetChannel(_ context.Context, channel string) (*room.Channel, error) {
	c.mu.Lock()
	c.getChannelCalls++
	fn := c.getChannelFn
	c.mu.Unlock()
	if fn != nil {
		return fn(channel)
	}
	return nil, errors.New("no channel behavior configured")
}

func (c *mockRoomClient) AudienceReply(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audienceReplies++
	return nil
}

func (c *mockRoomClient) AcceptSpeakerInvite(_ context.Context, _ string, _ int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptInvites++
	return nil
}

func (c *mockRoomClient) InviteSpeaker(_ context.Context, _ string, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invited = append(c.invited, userID)
	return nil
}

func (c *mockRoomClient) MakeModerator(_ context.Context, _ string, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promoted = append(c.promoted, userID)
	return nil
}

func (c *mockRoomClient) SendMessage(_ context.Context, _ string, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *mockRoomClient) ActivePing(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *mockRoomClient) LeaveChannel(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
	return nil
}

func (c *mockRoomClient) GetFeed(_ context.Context) (*room.Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedCalls++
	if c.feedErr != nil {
		return nil, c.feedErr
	}
	if c.feed != nil {
		return c.feed, nil
	}
	return &room.Feed{Success: true, Raw: []byte(`{"success":true,"items":[]}`)}, nil
}

func (c *mockRoomClient) snapshotCounts() (invites, promotions, msgs, leaves int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invited), len(c.promoted), len(c.messages), c.leaves
}

func (c *mockRoomClient) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type mockRecorder struct {
	mu    sync.Mutex
	saved []archive.SnapshotInput
}

func (r *mockRecorder) SaveSnapshot(_ context.Context, input archive.SnapshotInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, input)
	return nil
}

func (r *mockRecorder) ListSnapshotsByRoom(_ context.Context, _ string) ([]archive.Snapshot, error) {
	return nil, nil
}

func (r *mockRecorder) savedKinds() []archive.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]archive.Kind, 0, len(r.saved))
	for _, s := range r.saved {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func testConfig() *config.Config {
	return &config.Config{
		Env:          "test",
		APIBaseURL:   "http://localhost",
		UserID:       selfUserID,
		UserToken:    "token",
		DatabaseURL:  "postgres://localhost/test",
		PolicyFile:   "policy.yaml",
		AutomodClubs: map[int64]struct{}{100: {}},
		SocialClubs:  map[int64]struct{}{200: {}},
		GuestList:    map[int64]struct{}{},
		ModList:      map[int64]struct{}{},
	}
}

func selfUser(isSpeaker, isModerator bool) room.User {
	return room.User{
		UserID:      selfUserID,
		FirstName:   "AutoMod",
		IsSpeaker:   isSpeaker,
		IsModerator: isModerator,
	}
}

func socialChannel(users ...room.User) *room.Channel {
	return &room.Channel{
		Success:              true,
		IsSocialMode:         true,
		IsChatEnabled:        true,
		CreatorUserProfileID: 1,
		Users:                users,
	}
}

func privateChannel(users ...room.User) *room.Channel {
	return &room.Channel{
		Success:              true,
		IsPrivate:            true,
		IsChatEnabled:        true,
		CreatorUserProfileID: 1,
		Users:                users,
	}
}

func fastOptions() Options {
	return Options{
		PollInterval:     5 * time.Millisecond,
		PrivilegeTimeout: 500 * time.Millisecond,
		DumpInterval:     1,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

// Social room where the bot is already a moderator: the join sequence
// completes without any privilege wait.
func newActiveSocialManager(t *testing.T) (*Manager, *mockRoomClient, *mockRecorder) {
	t.Helper()
	host := room.User{UserID: 1, FirstName: "Deon", IsSpeaker: true, IsModerator: true}
	client := &mockRoomClient{}
	ch := socialChannel(host, selfUser(true, true))
	client.joinFn = func(string) (*room.Channel, error) { return ch, nil }
	client.getChannelFn = func(string) (*room.Channel, error) { return ch, nil }
	recorder := &mockRecorder{}
	return NewManager(testConfig(), client, recorder), client, recorder
}

func TestJoin_SocialRoomAlreadyModerator(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	defer manager.TerminateAll()

	status, err := manager.Join(context.Background(), "room-1", fastOptions())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if status.State != StateActive {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if status.RoomType != RoomTypeSocial {
		t.Fatalf("unexpected room type: %s", status.RoomType)
	}
	if status.WaitingSpeaker || status.WaitingModerator {
		t.Fatalf("no privilege should be pending: %+v", status)
	}
	if status.HostName != "Deon" {
		t.Fatalf("unexpected host name: %s", status.HostName)
	}

	client.mu.Lock()
	replies := client.audienceReplies
	client.mu.Unlock()
	if replies != 0 {
		t.Fatalf("no speak request should have been issued, got %d", replies)
	}
	waitUntil(t, time.Second, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.pings >= 1
	}, "keep-alive should ping at least once")
}

func TestJoin_GreetingNamesPendingPrivileges(t *testing.T) {
	host := room.User{UserID: 1, FirstName: "Deon", IsSpeaker: true, IsModerator: true}
	client := &mockRoomClient{}
	// bot in audience of a private room: needs both privileges; grant both
	// as soon as an invite is accepted so the join completes
	client.joinFn = func(string) (*room.Channel, error) {
		return privateChannel(host, selfUser(false, false)), nil
	}
	client.getChannelFn = func(string) (*room.Channel, error) {
		client.mu.Lock()
		granted := client.acceptInvites >= 1
		client.mu.Unlock()
		return privateChannel(host, selfUser(granted, granted)), nil
	}
	manager := NewManager(testConfig(), client, &mockRecorder{})
	defer manager.TerminateAll()

	_, err := manager.Join(context.Background(), "room-1", fastOptions())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	messages := client.sentMessages()
	if len(messages) < 2 {
		t.Fatalf("expected greeting lines, got %v", messages)
	}
	if !strings.Contains(messages[0], "Hello Deon") {
		t.Fatalf("unexpected greeting: %q", messages[0])
	}
	if messages[1] != messageRequestSpeakAndMod {
		t.Fatalf("expected combined privilege request, got %q", messages[1])
	}
}

func TestJoin_SpeakerTimeoutTerminatesEarly(t *testing.T) {
	host := room.User{UserID: 1, FirstName: "Deon", IsSpeaker: true, IsModerator: true}
	client := &mockRoomClient{}
	ch := privateChannel(host, selfUser(false, false))
	client.joinFn = func(string) (*room.Channel, error) { return ch, nil }
	client.getChannelFn = func(string) (*room.Channel, error) { return ch, nil }
	manager := NewManager(testConfig(), client, &mockRecorder{})

	opts := fastOptions()
	opts.PrivilegeTimeout = 25 * time.Millisecond
	_, err := manager.Join(context.Background(), "room-1", opts)
	if !errors.Is(err, ErrPrivilegeTimeout) {
		t.Fatalf("expected ErrPrivilegeTimeout, got %v", err)
	}
	if _, ok := manager.Status("room-1"); ok {
		t.Fatal("session should be gone after privilege timeout")
	}
	waitUntil(t, time.Second, func() bool {
		_, _, _, leaves := client.snapshotCounts()
		return leaves == 1
	}, "terminate should leave the room")

	// early termination: no share-url announcement was ever scheduled
	for _, msg := range client.sentMessages() {
		if msg == messageShareURLIntro {
			t.Fatalf("share url announced despite early termination: %v", client.sentMessages())
		}
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	m := manager
	m.mu.Lock()
	s := m.sessions["room-1"]
	m.mu.Unlock()
	if s == nil {
		t.Fatal("expected live session")
	}

	manager.terminate(s)
	first := manager.statusOf(s)
	manager.terminate(s)
	second := manager.statusOf(s)

	if first != second {
		t.Fatalf("terminate is not idempotent: %+v vs %+v", first, second)
	}
	if first.State != StateTerminated {
		t.Fatalf("unexpected state: %s", first.State)
	}
	if first.Connected || first.ActiveSpeaker || first.ActiveModerator {
		t.Fatalf("flags not reset: %+v", first)
	}
	if first.Welcomed != 0 || first.ScreenedForSpeaker != 0 || first.ScreenedForModerator != 0 {
		t.Fatalf("dedup sets not reset: %+v", first)
	}
	waitUntil(t, time.Second, func() bool {
		_, _, _, leaves := client.snapshotCounts()
		return leaves == 1
	}, "leave should fire exactly once")
	// settle long enough to catch a stray second leave
	time.Sleep(20 * time.Millisecond)
	if _, _, _, leaves := client.snapshotCounts(); leaves != 1 {
		t.Fatalf("expected a single leave call, got %d", leaves)
	}
}

func TestJoin_SupersedesPriorSession(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	defer manager.TerminateAll()

	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	manager.mu.Lock()
	first := manager.sessions["room-1"]
	manager.mu.Unlock()

	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	manager.mu.Lock()
	second := manager.sessions["room-1"]
	manager.mu.Unlock()

	if first == second {
		t.Fatal("second join should create a fresh session")
	}
	first.mu.Lock()
	firstState := first.state
	first.mu.Unlock()
	if firstState != StateTerminated {
		t.Fatalf("prior session should be terminated, got %s", firstState)
	}
	waitUntil(t, time.Second, func() bool {
		_, _, _, leaves := client.snapshotCounts()
		return leaves >= 1
	}, "prior session should leave the room")
}

func TestRefreshTick_UnreachableReconnects(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	defer manager.TerminateAll()
	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	manager.mu.Lock()
	s := manager.sessions["room-1"]
	manager.mu.Unlock()
	s.reconnectInterval = 5 * time.Millisecond
	s.reconnectTimeout = 250 * time.Millisecond

	client.mu.Lock()
	client.getChannelFn = func(string) (*room.Channel, error) { return nil, room.ErrUnreachable }
	client.mu.Unlock()

	if err := manager.refreshTick(s); err != nil {
		t.Fatalf("reconnect should succeed while join still works, got %v", err)
	}
	if !s.connected.Load() {
		t.Fatal("session should be connected again after reconnection")
	}
}

func TestRefreshTick_ReconnectTimeoutTerminates(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	manager.mu.Lock()
	s := manager.sessions["room-1"]
	manager.mu.Unlock()
	s.reconnectInterval = 5 * time.Millisecond
	s.reconnectTimeout = 25 * time.Millisecond

	client.mu.Lock()
	client.getChannelFn = func(string) (*room.Channel, error) { return nil, room.ErrUnreachable }
	client.joinFn = func(string) (*room.Channel, error) { return nil, room.ErrUnreachable }
	client.mu.Unlock()

	if err := manager.refreshTick(s); !errors.Is(err, errTerminated) {
		t.Fatalf("expected errTerminated, got %v", err)
	}
	if _, ok := manager.Status("room-1"); ok {
		t.Fatal("session should be gone after reconnect timeout")
	}
}

func TestRefreshTick_MalformedSnapshotTreatedAsUnreachable(t *testing.T) {
	manager, client, _ := newActiveSocialManager(t)
	defer manager.TerminateAll()
	if _, err := manager.Join(context.Background(), "room-1", fastOptions()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	manager.mu.Lock()
	s := manager.sessions["room-1"]
	manager.mu.Unlock()
	s.reconnectInterval = 5 * time.Millisecond
	s.reconnectTimeout = 250 * time.Millisecond

	client.mu.Lock()
	client.getChannelFn = func(string) (*room.Channel, error) {
		return &room.Channel{Success: false}, nil
	}
	client.mu.Unlock()

	if err := manager.refreshTick(s); err != nil {
		t.Fatalf("malformed snapshot should defer to reconnection, got %v", err)
	}
}

func TestJoin_EndToEnd_PrivateRoomBothPrivileges(t *testing.T) {
	host := room.User{UserID: 1, FirstName: "Deon", IsSpeaker: true, IsModerator: true,
		TimeJoinedAsSpeaker: "2021-04-07T21:38:35.129474+00:00"}
	guest := room.User{UserID: 2, FirstName: "Tracy"}
	client := &mockRoomClient{}
	client.joinFn = func(string) (*room.Channel, error) {
		return privateChannel(host, guest, selfUser(false, false)), nil
	}
	// speaker arrives on the second accept-invite poll, moderator on the
	// first poll of its own protocol
	client.getChannelFn = func(string) (*room.Channel, error) {
		client.mu.Lock()
		speaker := client.acceptInvites >= 2
		client.mu.Unlock()
		return privateChannel(host, guest, selfUser(speaker, speaker)), nil
	}
	recorder := &mockRecorder{}
	manager := NewManager(testConfig(), client, recorder)
	defer manager.TerminateAll()

	status, err := manager.Join(context.Background(), "room-1", fastOptions())
	if err != nil {
		t.Fatalf("expected active session, got %v", err)
	}
	if status.State != StateActive {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if !status.GrantedSpeaker || !status.ActiveSpeaker || !status.GrantedModerator || !status.ActiveModerator {
		t.Fatalf("privileges not established: %+v", status)
	}
	if status.WaitingSpeaker || status.WaitingModerator {
		t.Fatalf("waiting flags should be cleared: %+v", status)
	}

	// share url fires on the first loop run for private rooms, without
	// waiting out the announcement period
	waitUntil(t, time.Second, func() bool {
		for _, msg := range client.sentMessages() {
			if msg == messageShareURLIntro {
				return true
			}
		}
		return false
	}, "expected a share url announcement")

	// refresh loop runs at least once and, with dump interval 1, archives a feed snapshot
	waitUntil(t, time.Second, func() bool {
		for _, kind := range recorder.savedKinds() {
			if kind == archive.KindFeed {
				return true
			}
		}
		return false
	}, "expected a feed snapshot dump from the refresh loop")
}
