// Package testkit provides in-memory fakes of the core's external
// collaborators for package tests.
package testkit

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
)

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Scheduler records scheduled jobs in memory.
type Scheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[string]jobs.Pending
	// Scheduled holds every request in arrival order, cancelled or not.
	Scheduled []jobs.Request
	Cancelled []string
}

var _ jobs.Scheduler = (*Scheduler)(nil)

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]jobs.Pending)}
}

func (s *Scheduler) Schedule(_ context.Context, req jobs.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := "job-" + strconv.Itoa(s.nextID)
	s.pending[id] = jobs.Pending{ID: id, Name: req.Name, RunAt: req.RunAt, Cron: req.Cron}
	s.Scheduled = append(s.Scheduled, req)
	return id, nil
}

func (s *Scheduler) ListPending(context.Context) ([]jobs.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]jobs.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Scheduler) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, id)
	s.Cancelled = append(s.Cancelled, id)
	return nil
}

// PendingNamed returns the pending jobs with the given name.
func (s *Scheduler) PendingNamed(name keys.JobName) []jobs.Pending {
	all, _ := s.ListPending(context.Background())
	var out []jobs.Pending
	for _, p := range all {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Count returns how many requests named name were ever scheduled.
func (s *Scheduler) Count(name keys.JobName) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.Scheduled {
		if r.Name == name {
			n++
		}
	}
	return n
}

// Pages is an in-memory content store that counts writes.
type Pages struct {
	mu    sync.Mutex
	pages map[string]content.Page
	// Writes counts Create, Update and SetPermission calls.
	Writes int
	// Err, when set, fails every call.
	Err error
}

var _ content.Store = (*Pages)(nil)

func NewPages() *Pages {
	return &Pages{pages: make(map[string]content.Page)}
}

func (p *Pages) Get(_ context.Context, path string) (content.Page, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return content.Page{}, false, p.Err
	}
	page, ok := p.pages[path]
	return page, ok, nil
}

func (p *Pages) Create(_ context.Context, path, text string, perm content.Permission) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.Writes++
	p.pages[path] = content.Page{Path: path, Content: text, Permission: perm}
	return nil
}

func (p *Pages) Update(_ context.Context, path, text, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	page, ok := p.pages[path]
	if !ok {
		return errors.New("page not found: " + path)
	}
	p.Writes++
	page.Content = text
	p.pages[path] = page
	return nil
}

func (p *Pages) SetPermission(_ context.Context, path string, perm content.Permission) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	page, ok := p.pages[path]
	if !ok {
		return errors.New("page not found: " + path)
	}
	p.Writes++
	page.Permission = perm
	p.pages[path] = page
	return nil
}

// ListPublic returns the sorted public paths under prefix.
func (p *Pages) ListPublic(_ context.Context, prefix string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	var paths []string
	for path, page := range p.pages {
		if page.Permission == content.PermissionPublic && strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Page returns a stored page for assertions.
func (p *Pages) Page(path string) (content.Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.pages[path]
	return page, ok
}

// Labels is an in-memory label store keyed by community and name.
type Labels struct {
	mu    sync.Mutex
	users map[string]string
	posts map[string]string
	// UserWrites counts SetUserLabel calls.
	UserWrites int
	Err        error
	// ReadErr fails UserLabel.
	ReadErr error
}

func NewLabels() *Labels {
	return &Labels{users: make(map[string]string), posts: make(map[string]string)}
}

func (l *Labels) UserLabel(_ context.Context, community, username string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadErr != nil {
		return "", false, l.ReadErr
	}
	v, ok := l.users[community+"/"+username]
	return v, ok, nil
}

func (l *Labels) SetUserLabel(_ context.Context, community, username, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.UserWrites++
	l.users[community+"/"+username] = text
	return nil
}

func (l *Labels) SetPostLabel(_ context.Context, community, postID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.posts[community+"/"+postID] = text
	return nil
}

// Put seeds a user label.
func (l *Labels) Put(community, username, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[community+"/"+username] = text
}

// Post returns a post label for assertions.
func (l *Labels) Post(community, postID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.posts[community+"/"+postID]
}

// Messenger records every message it is asked to send.
type Messenger struct {
	mu      sync.Mutex
	Replies []string
	DMs     map[string][]string
	Ops     []string
	Err     error
}

func NewMessenger() *Messenger {
	return &Messenger{DMs: make(map[string][]string)}
}

func (m *Messenger) Reply(_ context.Context, _, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Replies = append(m.Replies, text)
	return nil
}

func (m *Messenger) DirectMessage(_ context.Context, username, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.DMs[username] = append(m.DMs[username], text)
	return nil
}

func (m *Messenger) Operator(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Ops = append(m.Ops, text)
	return nil
}

// History is an in-memory award log.
type History struct {
	mu      sync.Mutex
	Records []history.Record
	Err     error
}

func (h *History) Append(_ context.Context, r history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return h.Err
	}
	h.Records = append(h.Records, r)
	return nil
}

func (h *History) Recent(_ context.Context, username string, limit int) ([]history.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []history.Record
	for i := len(h.Records) - 1; i >= 0 && len(out) < limit; i-- {
		if h.Records[i].Recipient == username {
			out = append(out, h.Records[i])
		}
	}
	return out, nil
}

// Directory is a fixed set of existing accounts.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]bool
	Err      error
}

func NewDirectory(usernames ...string) *Directory {
	d := &Directory{accounts: make(map[string]bool)}
	for _, u := range usernames {
		d.accounts[u] = true
	}
	return d
}

func (d *Directory) Exists(_ context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	return d.accounts[username], nil
}

// Delete removes an account.
func (d *Directory) Delete(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, username)
}

// Moderators is a fixed set of moderators valid in every community.
type Moderators map[string]bool

func (m Moderators) IsModerator(_ context.Context, _, username string) (bool, error) {
	return m[username], nil
}
