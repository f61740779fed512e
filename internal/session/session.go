package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deoncarlette/AutoMod/internal/archive"
	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/room"
	"github.com/deoncarlette/AutoMod/internal/scheduler"
)

const (
	keepAlivePeriod   = 30 * time.Second
	refreshPeriod     = 15 * time.Second
	uptimePeriod      = 30 * time.Minute
	shareURLPeriod    = 60 * time.Minute
	reconnectInterval = 10 * time.Second
	reconnectTimeout  = 120 * time.Second

	defaultPollInterval     = 10 * time.Second
	defaultPrivilegeTimeout = 120 * time.Second
	defaultAnnouncePeriod   = 60 * time.Minute
	defaultDumpInterval     = 8
)

// ErrPrivilegeTimeout is the defined terminal outcome of a privilege wait:
// the grant never arrived, so the session was torn down.
var ErrPrivilegeTimeout = errors.New("privilege not granted within timeout")

var errTerminated = errors.New("session terminated")

type State string

const (
	StateJoining                State = "joining"
	StateEstablishingPrivileges State = "establishing_privileges"
	StateActive                 State = "active"
	StateReconnecting           State = "reconnecting"
	StateTerminated             State = "terminated"
)

type RoomType string

const (
	RoomTypePublic  RoomType = "public"
	RoomTypePrivate RoomType = "private"
	RoomTypeSocial  RoomType = "social"
)

// Options is the caller-supplied tuning for one joined room.
type Options struct {
	Announcements        []string
	AnnouncementInterval time.Duration
	AnnouncementDelay    time.Duration
	PollInterval         time.Duration
	PrivilegeTimeout     time.Duration
	DumpInterval         int
}

func (o Options) withDefaults() Options {
	if o.AnnouncementInterval <= 0 {
		o.AnnouncementInterval = defaultAnnouncePeriod
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.PrivilegeTimeout <= 0 {
		o.PrivilegeTimeout = defaultPrivilegeTimeout
	}
	if o.DumpInterval <= 0 {
		o.DumpInterval = defaultDumpInterval
	}
	return o
}

// Session is the bot's evolving relationship to a single live room. Field
// ownership across tasks: the join sequence writes the policy fields before
// any task starts; the privilege protocol owns the waiting/granted flags;
// the refresh loop owns connectivity, chat and active flags plus the dedup
// sets. Flags read across tasks are atomics, the sets are mutex-guarded.
type Session struct {
	roomID string
	opts   Options

	// established at join, immutable afterwards
	roomType            RoomType
	creatorID           int64
	hostName            string
	clubID              int64
	autoSpeakerApproval bool
	audioToken          string
	createdAt           time.Time
	requiresSpeaker     bool
	requiresModerator   bool
	announceShareURL    bool
	inAutomodClub       bool
	inSocialClub        bool

	chatEnabled      atomic.Bool
	connected        atomic.Bool
	waitingSpeaker   atomic.Bool
	grantedSpeaker   atomic.Bool
	activeSpeaker    atomic.Bool
	waitingModerator atomic.Bool
	grantedModerator atomic.Bool
	activeModerator  atomic.Bool

	quit     chan struct{}
	quitOnce sync.Once

	mu                   sync.Mutex
	state                State
	welcomed             map[int64]struct{}
	presentAtJoin        map[int64]struct{}
	screenedForSpeaker   map[int64]struct{}
	screenedForModerator map[int64]struct{}
	tasks                []*scheduler.Task
	dumpCounter          int

	// overridable in tests
	reconnectInterval time.Duration
	reconnectTimeout  time.Duration
}

func newSession(roomID string, opts Options) *Session {
	return &Session{
		roomID:               roomID,
		opts:                 opts,
		quit:                 make(chan struct{}),
		state:                StateJoining,
		welcomed:             make(map[int64]struct{}),
		presentAtJoin:        make(map[int64]struct{}),
		screenedForSpeaker:   make(map[int64]struct{}),
		screenedForModerator: make(map[int64]struct{}),
		reconnectInterval:    reconnectInterval,
		reconnectTimeout:     reconnectTimeout,
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) addTask(t *scheduler.Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// applySelfFlags refreshes the bot's own privilege view from a snapshot.
// An observed active privilege raises the granted flag too, so active
// always implies granted even when the grant raced a status refresh.
func (s *Session) applySelfFlags(self Participant) {
	s.activeSpeaker.Store(self.IsSpeaker)
	s.activeModerator.Store(self.IsModerator)
	if self.IsSpeaker {
		s.grantedSpeaker.Store(true)
	}
	if self.IsModerator {
		s.grantedModerator.Store(true)
	}
}

// sleep waits d unless the session is terminated first.
func (s *Session) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.quit:
		return false
	case <-timer.C:
		return true
	}
}

// Status is a read-only view of a session for logging and telemetry.
type Status struct {
	RoomID               string
	State                State
	RoomType             RoomType
	HostName             string
	ClubID               int64
	ChatEnabled          bool
	Connected            bool
	WaitingSpeaker       bool
	GrantedSpeaker       bool
	ActiveSpeaker        bool
	WaitingModerator     bool
	GrantedModerator     bool
	ActiveModerator      bool
	Welcomed             int
	ScreenedForSpeaker   int
	ScreenedForModerator int
}

// Manager owns every live session and drives the join/refresh/terminate
// lifecycle against the channel service.
type Manager struct {
	cfg      *config.Config
	client   room.Client
	recorder archive.Recorder

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config, client room.Client, recorder archive.Recorder) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		recorder: recorder,
		sessions: make(map[string]*Session),
	}
}

// Join runs the full join sequence: establish status, greet, acquire any
// required privileges, start the announcement loops and the refresh loop.
// It blocks until the session is active or the join has failed. A second
// Join for the same room terminates the prior session first.
func (m *Manager) Join(ctx context.Context, roomID string, opts Options) (Status, error) {
	opts = opts.withDefaults()

	m.mu.Lock()
	prior := m.sessions[roomID]
	m.mu.Unlock()
	if prior != nil {
		slog.Info("superseding prior session", "room_id", roomID)
		m.terminate(prior)
	}

	s := newSession(roomID, opts)
	m.mu.Lock()
	m.sessions[roomID] = s
	m.mu.Unlock()

	if err := m.establish(ctx, s); err != nil {
		m.terminate(s)
		return m.statusOf(s), err
	}

	s.addTask(scheduler.Start("keep-alive:"+roomID, keepAlivePeriod, func() error {
		return m.client.ActivePing(context.Background(), s.roomID)
	}))

	if s.chatEnabled.Load() {
		_ = m.sendRoomChat(s, greetingLines(s))
	}

	s.setState(StateEstablishingPrivileges)
	if s.requiresSpeaker {
		if !m.acquirePrivilege(s, privilegeSpeaker) {
			m.terminate(s)
			return m.statusOf(s), fmt.Errorf("speaker: %w", ErrPrivilegeTimeout)
		}
	}
	if s.requiresModerator {
		if !m.acquirePrivilege(s, privilegeModerator) {
			m.terminate(s)
			return m.statusOf(s), fmt.Errorf("moderator: %w", ErrPrivilegeTimeout)
		}
	}

	if s.chatEnabled.Load() {
		if s.announceShareURL {
			s.addTask(scheduler.Start("share-url:"+roomID, shareURLPeriod, func() error {
				return m.sendRoomChat(s, shareURLLines(s.roomID))
			}))
		}
		s.addTask(scheduler.Start("uptime:"+roomID, uptimePeriod, func() error {
			return m.sendRoomChat(s, []string{uptimeLine(s.createdAt, time.Now())})
		}))
		if len(opts.Announcements) > 0 {
			announcement := append([]string(nil), opts.Announcements...)
			s.addTask(scheduler.Start("announcement:"+roomID, opts.AnnouncementInterval, func() error {
				return m.sendRoomChat(s, announcement)
			}))
		}
	}

	s.setState(StateActive)
	s.addTask(scheduler.Start("refresh:"+roomID, refreshPeriod, func() error {
		return m.refreshTick(s)
	}))

	slog.Info("session active", "room_id", roomID, "room_type", string(s.roomType), "host", s.hostName)
	return m.statusOf(s), nil
}

// establish joins the room and derives the session's initial state from
// the join response and one fresh channel snapshot. Step order matters:
// later announcements reference fields set here.
func (m *Manager) establish(ctx context.Context, s *Session) error {
	joinInfo, err := m.client.JoinChannel(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("join room %s: %w", s.roomID, err)
	}
	snap, err := parseSnapshot(s.roomID, joinInfo, m.client.UserID())
	if err != nil {
		return fmt.Errorf("join room %s: %w", s.roomID, err)
	}

	s.roomType = snap.Type
	s.creatorID = snap.CreatorID
	s.hostName = snap.HostName
	s.clubID = snap.ClubID
	s.autoSpeakerApproval = snap.AutoSpeakerApproval
	s.audioToken = snap.AudioToken
	s.createdAt = snap.CreatedAt
	s.chatEnabled.Store(snap.ChatEnabled)

	s.mu.Lock()
	for _, p := range snap.Participants {
		s.presentAtJoin[p.UserID] = struct{}{}
	}
	s.presentAtJoin[m.client.UserID()] = struct{}{}
	s.mu.Unlock()

	chInfo, err := m.client.GetChannel(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("room %s status: %w", s.roomID, err)
	}
	status, err := parseSnapshot(s.roomID, chInfo, m.client.UserID())
	if err != nil {
		return fmt.Errorf("room %s status: %w", s.roomID, err)
	}
	s.chatEnabled.Store(status.ChatEnabled)
	if status.SelfFound {
		s.applySelfFlags(status.Self)
	}

	s.derivePolicy(m.cfg)
	s.connected.Store(true)

	if s.roomType == RoomTypePublic {
		m.saveSnapshotPayload(s.roomID, archive.KindJoin, joinInfo)
		m.saveSnapshotPayload(s.roomID, archive.KindChannel, chInfo)
	}
	return nil
}

// derivePolicy fixes the policy flags for the session's lifetime. Private
// and public rooms need the bot on stage and moderating; social rooms make
// everyone a speaker automatically, so only moderation is pursued.
func (s *Session) derivePolicy(cfg *config.Config) {
	switch {
	case (s.roomType == RoomTypePrivate || s.roomType == RoomTypePublic) && !s.activeSpeaker.Load():
		s.requiresSpeaker = true
		s.requiresModerator = true
	case !s.activeModerator.Load():
		s.requiresModerator = true
	}
	s.waitingSpeaker.Store(s.requiresSpeaker)
	s.waitingModerator.Store(s.requiresModerator)

	s.announceShareURL = s.roomType == RoomTypePrivate
	if s.clubID != 0 {
		s.inAutomodClub = cfg.IsAutomodClub(s.clubID)
		s.inSocialClub = cfg.IsSocialClub(s.clubID)
	}
}

// refreshTick is the recurring poll: re-fetch the room, refresh flags,
// screen guests and occasionally archive a feed snapshot. Any remote or
// parse failure on the fetch counts as "unreachable" and hands control to
// the reconnection watch.
func (m *Manager) refreshTick(s *Session) error {
	ctx := context.Background()
	chInfo, err := m.client.GetChannel(ctx, s.roomID)
	var snap *Snapshot
	if err == nil {
		snap, err = parseSnapshot(s.roomID, chInfo, m.client.UserID())
	}
	if err != nil {
		slog.Warn("room unreachable on refresh", "room_id", s.roomID, "error", err)
		s.connected.Store(false)
		s.setState(StateReconnecting)
		if !m.waitForReconnection(s) {
			m.terminate(s)
			return errTerminated
		}
		s.connected.Store(true)
		s.setState(StateActive)
		return nil
	}

	s.connected.Store(true)
	s.chatEnabled.Store(snap.ChatEnabled)
	if snap.SelfFound {
		s.applySelfFlags(snap.Self)
	}

	m.screenGuests(s, snap.Participants)
	m.maybeDump(s, chInfo)
	return nil
}

func (m *Manager) waitForReconnection(s *Session) bool {
	slog.Info("watching for reconnection", "room_id", s.roomID)
	return s.pollUntil(s.reconnectInterval, s.reconnectTimeout, func() bool {
		_, err := m.client.JoinChannel(context.Background(), s.roomID)
		return err == nil
	})
}

// maybeDump archives a feed snapshot every Nth refresh tick, plus the
// channel snapshot for public rooms.
func (m *Manager) maybeDump(s *Session, chInfo *room.Channel) {
	s.mu.Lock()
	s.dumpCounter++
	due := s.dumpCounter >= s.opts.DumpInterval
	if due {
		s.dumpCounter = 0
	}
	s.mu.Unlock()
	if !due {
		return
	}

	feed, err := m.client.GetFeed(context.Background())
	if err != nil {
		slog.Warn("feed fetch failed", "room_id", s.roomID, "error", err)
	} else {
		m.saveSnapshotRaw(s.roomID, archive.KindFeed, feed.Raw)
	}
	if s.roomType == RoomTypePublic {
		m.saveSnapshotPayload(s.roomID, archive.KindChannel, chInfo)
	}
}

func (m *Manager) saveSnapshotPayload(roomID string, kind archive.Kind, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("snapshot encode failed", "room_id", roomID, "kind", string(kind), "error", err)
		return
	}
	m.saveSnapshotRaw(roomID, kind, b)
}

func (m *Manager) saveSnapshotRaw(roomID string, kind archive.Kind, payload []byte) {
	err := m.recorder.SaveSnapshot(context.Background(), archive.SnapshotInput{
		RoomID:     roomID,
		Kind:       kind,
		Payload:    payload,
		CapturedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("snapshot save failed", "room_id", roomID, "kind", string(kind), "error", err)
	}
}

// sendRoomChat sends each line in order, pausing AnnouncementDelay between
// lines. The pause is interruptible by termination.
func (m *Manager) sendRoomChat(s *Session, lines []string) error {
	for i, line := range lines {
		if i > 0 && s.opts.AnnouncementDelay > 0 {
			if !s.sleep(s.opts.AnnouncementDelay) {
				return nil
			}
		}
		if err := m.client.SendMessage(context.Background(), s.roomID, line); err != nil {
			slog.Warn("chat send failed", "room_id", s.roomID, "error", err)
			return err
		}
	}
	return nil
}

// Terminate tears down the session for roomID, if any. Idempotent.
func (m *Manager) Terminate(roomID string) {
	m.mu.Lock()
	s := m.sessions[roomID]
	m.mu.Unlock()
	if s != nil {
		m.terminate(s)
	}
}

// TerminateAll tears down every live session; used on process shutdown.
func (m *Manager) TerminateAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.terminate(s)
	}
}

// terminate cancels every background task, leaves the room without waiting
// on the remote call, and resets all mutable session state. Calling it
// again only re-asserts the reset state.
func (m *Manager) terminate(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.roomID]; ok && cur == s {
		delete(m.sessions, s.roomID)
	}
	m.mu.Unlock()

	s.quitOnce.Do(func() {
		close(s.quit)
	})

	s.mu.Lock()
	alreadyTerminated := s.state == StateTerminated
	tasks := s.tasks
	s.tasks = nil
	s.state = StateTerminated
	s.welcomed = make(map[int64]struct{})
	s.presentAtJoin = make(map[int64]struct{})
	s.screenedForSpeaker = make(map[int64]struct{})
	s.screenedForModerator = make(map[int64]struct{})
	s.dumpCounter = 0
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}

	s.waitingSpeaker.Store(false)
	s.grantedSpeaker.Store(false)
	s.activeSpeaker.Store(false)
	s.waitingModerator.Store(false)
	s.grantedModerator.Store(false)
	s.activeModerator.Store(false)
	s.connected.Store(false)
	s.chatEnabled.Store(false)

	if !alreadyTerminated {
		go func() {
			_ = m.client.LeaveChannel(context.Background(), s.roomID)
		}()
		slog.Info("session terminated", "room_id", s.roomID)
	}
}

// Status reports the current session view for roomID.
func (m *Manager) Status(roomID string) (Status, bool) {
	m.mu.Lock()
	s := m.sessions[roomID]
	m.mu.Unlock()
	if s == nil {
		return Status{}, false
	}
	return m.statusOf(s), true
}

func (m *Manager) statusOf(s *Session) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RoomID:               s.roomID,
		State:                s.state,
		RoomType:             s.roomType,
		HostName:             s.hostName,
		ClubID:               s.clubID,
		ChatEnabled:          s.chatEnabled.Load(),
		Connected:            s.connected.Load(),
		WaitingSpeaker:       s.waitingSpeaker.Load(),
		GrantedSpeaker:       s.grantedSpeaker.Load(),
		ActiveSpeaker:        s.activeSpeaker.Load(),
		WaitingModerator:     s.waitingModerator.Load(),
		GrantedModerator:     s.grantedModerator.Load(),
		ActiveModerator:      s.activeModerator.Load(),
		Welcomed:             len(s.welcomed),
		ScreenedForSpeaker:   len(s.screenedForSpeaker),
		ScreenedForModerator: len(s.screenedForModerator),
	}
}
