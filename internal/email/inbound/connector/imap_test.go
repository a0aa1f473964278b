package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	messages  []*FetchedMessage
	failUID   uint32
	skipUID   uint32
	cancelFor context.CancelFunc
}

func (h *recordingHandler) Handle(_ context.Context, msg *FetchedMessage) error {
	h.messages = append(h.messages, msg)
	if msg.UID == h.failUID {
		return errors.New("boom")
	}
	if msg.UID == h.skipUID {
		return ErrUnhandled
	}
	if h.cancelFor != nil {
		h.cancelFor()
	}
	return nil
}

func (h *recordingHandler) uids() []uint32 {
	out := make([]uint32, 0, len(h.messages))
	for _, m := range h.messages {
		out = append(out, m.UID)
	}
	return out
}

func account() Account {
	return Account{Type: "imaps", Host: "mail.example", Username: "agent", Password: []byte("secret"), Folder: "Support"}
}

func fakeWith(client *fakeIMAPClient) IMAPFetcherOption {
	return withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil })
}

func TestIMAPFetcherDeliversAscendingAboveCursor(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{14, 11, 12, 9},
		bodies: map[imap.UID][]byte{
			9: []byte("old"), 11: []byte("first"), 12: []byte("second"), 14: []byte("third"),
		},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	h := &recordingHandler{}
	f := NewIMAPFetcher(WithIMAPClock(func() time.Time { return now }), fakeWith(client))

	require.NoError(t, f.Fetch(context.Background(), account(), 10, h))

	require.Equal(t, []uint32{11, 12, 14}, h.uids())
	require.Equal(t, "Support", client.selected)
	require.Equal(t, "Support", h.messages[0].Folder)
	require.Equal(t, []byte("first"), h.messages[0].Raw)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), h.messages[0].ReceivedAt)
	require.Equal(t, now, h.messages[1].ReceivedAt)
	require.Equal(t, "12", h.messages[1].Metadata["imap_uid"])
	require.Zero(t, client.copyCalls, "archive disabled")
	require.Equal(t, 1, client.logoutCalls)
}

func TestIMAPFetcherHonoursBatchSize(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{1, 2, 3},
		bodies: map[imap.UID][]byte{1: []byte("a"), 2: []byte("b"), 3: []byte("c")},
	}
	acc := account()
	acc.BatchSize = 2
	h := &recordingHandler{}
	require.NoError(t, NewIMAPFetcher(fakeWith(client)).Fetch(context.Background(), acc, 0, h))
	require.Equal(t, []uint32{1, 2}, h.uids())
}

func TestIMAPFetcherArchivesHandledMessages(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11, 12, 13},
		bodies: map[imap.UID][]byte{11: []byte("a"), 12: []byte("b"), 13: []byte("c")},
	}
	acc := account()
	acc.AutoArchive = true
	acc.ArchiveFolder = "[Gmail]/All Mail"
	h := &recordingHandler{skipUID: 12}
	require.NoError(t, NewIMAPFetcher(fakeWith(client)).Fetch(context.Background(), acc, 0, h))

	require.Equal(t, "[Gmail]/All Mail", client.copyFolder)
	require.Equal(t, []imap.UID{11, 13}, client.copyUIDs)
	require.Equal(t, []imap.UID{11, 13}, client.storeUIDs)
	require.Equal(t, 1, client.expungeCalls)
}

func TestIMAPFetcherStopsOnHandlerErrorButArchivesEarlier(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11, 12, 13},
		bodies: map[imap.UID][]byte{11: []byte("a"), 12: []byte("b"), 13: []byte("c")},
	}
	acc := account()
	acc.AutoArchive = true
	h := &recordingHandler{failUID: 12}
	err := NewIMAPFetcher(fakeWith(client)).Fetch(context.Background(), acc, 0, h)
	require.ErrorContains(t, err, "uid 12")
	require.Equal(t, []uint32{11, 12}, h.uids())
	require.Equal(t, DefaultArchiveFolder, client.copyFolder)
	require.Equal(t, []imap.UID{11}, client.copyUIDs)
}

func TestIMAPFetcherStopsWhenContextCancelled(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{1, 2},
		bodies: map[imap.UID][]byte{1: []byte("a"), 2: []byte("b")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &recordingHandler{cancelFor: cancel}
	err := NewIMAPFetcher(fakeWith(client)).Fetch(ctx, account(), 0, h)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []uint32{1}, h.uids())
}

func TestIMAPFetcherEmptyMailboxNoError(t *testing.T) {
	client := &fakeIMAPClient{}
	f := NewIMAPFetcher(fakeWith(client))
	require.NoError(t, f.Fetch(context.Background(), account(), 0, &recordingHandler{}))
	require.Zero(t, client.fetchCalls)
	require.Equal(t, 1, client.logoutCalls)
}

func TestIMAPFetcherValidation(t *testing.T) {
	cases := []Account{
		{Type: "imap", Password: []byte("pw")},
		{Type: "imap", Username: "user"},
		{Type: "pop3", Username: "user", Password: []byte("pw")},
	}
	f := NewIMAPFetcher()
	for _, acc := range cases {
		if err := f.Fetch(context.Background(), acc, 0, &recordingHandler{}); err == nil {
			t.Fatalf("expected validation error for account %+v", acc)
		}
	}
}

func TestIMAPFetcherRequiresHandler(t *testing.T) {
	f := NewIMAPFetcher()
	if err := f.Fetch(context.Background(), account(), 0, nil); err == nil {
		t.Fatalf("expected handler required error")
	}
}

func TestIMAPFetcherAuthSelectAndSearchErrors(t *testing.T) {
	cases := map[string]*fakeIMAPClient{
		"imap auth":   {loginErr: errors.New("bad creds")},
		"imap select": {selectErr: errors.New("no folder")},
		"imap search": {searchErr: errors.New("bad criteria")},
	}
	for want, client := range cases {
		err := NewIMAPFetcher(fakeWith(client)).Fetch(context.Background(), account(), 0, &recordingHandler{})
		require.ErrorContains(t, err, want)
	}
}

func TestIMAPFetcherConnectErrorWrapped(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	err := f.Fetch(context.Background(), account(), 0, &recordingHandler{})
	require.ErrorContains(t, err, "imap connect")
}

func TestNewerThanSortsAndFilters(t *testing.T) {
	require.Equal(t, []imap.UID{6, 7}, newerThan([]imap.UID{7, 5, 6}, 5))
	require.Empty(t, newerThan([]imap.UID{5}, 5))
}

func TestSupportsIMAPPreds(t *testing.T) {
	require.True(t, supportsIMAP("imap_tls"))
	require.True(t, supportsIMAP("IMAPTLS"))
	require.False(t, supportsIMAP("pop3"))
	require.True(t, useIMAPTLS("imaps"))
	require.False(t, useIMAPTLS("imap"))
}

type fakeIMAPClient struct {
	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr   error
	selectErr  error
	searchErr  error
	fetchErr   error
	copyErr    error
	storeErr   error
	expungeErr error
	logoutErr  error

	selected     string
	fetchCalls   int
	copyFolder   string
	copyUIDs     []imap.UID
	copyCalls    int
	storeUIDs    []imap.UID
	storeCalls   int
	expungeCalls int
	logoutCalls  int
	closed       bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(mailbox string, _ *imap.SelectOptions) selectWaiter {
	c.selected = mailbox
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(_ *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	c.fetchCalls++
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		set, _ := numSet.(imap.UIDSet)
		for _, uid := range c.uids {
			if !set.Contains(uid) {
				continue
			}
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       uint32(uid),
				UID:          uid,
				InternalDate: c.internalDate[uid],
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: &imap.FetchItemBodySection{},
					Bytes:   append([]byte(nil), c.bodies[uid]...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}
func (c *fakeIMAPClient) Copy(numSet imap.NumSet, mailbox string) copyWaiter {
	c.copyCalls++
	c.copyFolder = mailbox
	c.copyUIDs = append(c.copyUIDs, setUIDs(numSet)...)
	return &fakeCopy{err: c.copyErr}
}
func (c *fakeIMAPClient) Store(numSet imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.storeCalls++
	if store != nil {
		c.storeUIDs = append(c.storeUIDs, setUIDs(numSet)...)
	}
	return &fakeFetch{err: c.storeErr}
}
func (c *fakeIMAPClient) UIDExpunge(_ imap.UIDSet) expungeWaiter {
	c.expungeCalls++
	return &fakeExpunge{err: c.expungeErr}
}

func setUIDs(numSet imap.NumSet) []imap.UID {
	set, ok := numSet.(imap.UIDSet)
	if !ok {
		return nil
	}
	uids, _ := set.Nums()
	return uids
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return nil, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type fakeCopy struct{ err error }

func (c *fakeCopy) Wait() (*imap.CopyData, error) { return nil, c.err }

type fakeExpunge struct{ err error }

func (e *fakeExpunge) Close() error { return e.err }
