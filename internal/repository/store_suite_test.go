package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores is one backend's set of repositories. Every backend runs the same
// suite so the in-memory and Mongo implementations cannot drift apart.
type stores struct {
	messages MessageStore
	chats    ChatLedger
	users    UserStore
}

type storeCase struct {
	name string
	run  func(t *testing.T, s stores)
}

var storeCases = []storeCase{
	{"FindOrCreateConcurrentConverges", testFindOrCreateConcurrentConverges},
	{"AdvanceStatusIsMonotonic", testAdvanceStatusIsMonotonic},
	{"AdvanceStatusKeepsDeliveredAt", testAdvanceStatusKeepsDeliveredAt},
	{"DeleteForMeIsIdempotent", testDeleteForMeIsIdempotent},
	{"DeleteForEveryone", testDeleteForEveryone},
	{"ClearWatermarkHidesEarlierMessages", testClearWatermarkHidesEarlierMessages},
	{"ConcurrentClearsNeverMoveBack", testConcurrentClearsNeverMoveBack},
	{"EditKeepsOrdering", testEditKeepsOrdering},
	{"HistoryPaging", testHistoryPaging},
	{"HistoryPagingAfterClear", testHistoryPagingAfterClear},
	{"LedgerLastMessageSnapshot", testLedgerLastMessageSnapshot},
	{"UserStoreContacts", testUserStoreContacts},
	{"ConcurrentAddContact", testConcurrentAddContact},
}

// runStoreSuite runs every case against fresh stores from open.
func runStoreSuite(t *testing.T, open func(t *testing.T) stores) {
	for _, tc := range storeCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, open(t))
		})
	}
}

func testFindOrCreateConcurrentConverges(t *testing.T, s stores) {
	ctx := context.Background()

	const n = 32
	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			c, ok, err := s.chats.FindOrCreate(ctx, a, b)
			if !assert.NoError(t, err) {
				return
			}
			ids[i], created[i] = c.ID, ok
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	again, ok, err := s.chats.FindOrCreate(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ids[0], again.ID)
	assert.Equal(t, []string{"alice", "bob"}, again.Participants)

	_, _, err = s.chats.FindOrCreate(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrSameParticipant)
}

func testAdvanceStatusIsMonotonic(t *testing.T, s stores) {
	ctx := context.Background()
	m, err := s.messages.Append(ctx, "c1", "a", "b", "hi", models.TypeText)
	require.NoError(t, err)

	read, changed, err := s.messages.AdvanceStatus(ctx, m.ID, models.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusRead, read.Status)
	require.NotNil(t, read.Timestamps.ReadAt)
	require.NotNil(t, read.Timestamps.DeliveredAt)

	back, changed, err := s.messages.AdvanceStatus(ctx, m.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.StatusRead, back.Status)

	same, changed, err := s.messages.AdvanceStatus(ctx, m.ID, models.StatusRead)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, *read.Timestamps.ReadAt, *same.Timestamps.ReadAt)

	_, _, err = s.messages.AdvanceStatus(ctx, "missing", models.StatusRead)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testAdvanceStatusKeepsDeliveredAt(t *testing.T, s stores) {
	ctx := context.Background()
	m, err := s.messages.Append(ctx, "c1", "a", "b", "hi", models.TypeText)
	require.NoError(t, err)

	delivered, changed, err := s.messages.AdvanceStatus(ctx, m.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, delivered.Timestamps.DeliveredAt)
	assert.Nil(t, delivered.Timestamps.ReadAt)

	read, changed, err := s.messages.AdvanceStatus(ctx, m.ID, models.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, *delivered.Timestamps.DeliveredAt, *read.Timestamps.DeliveredAt)
	require.NotNil(t, read.Timestamps.ReadAt)
	assert.True(t, read.Timestamps.ReadAt.After(*read.Timestamps.DeliveredAt))
}

func testDeleteForMeIsIdempotent(t *testing.T, s stores) {
	ctx := context.Background()
	m, err := s.messages.Append(ctx, "c1", "a", "b", "hi", models.TypeText)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := s.messages.DeleteForMe(ctx, m.ID, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, got.DeletedFor)
	}

	_, err = s.messages.DeleteForMe(ctx, m.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = s.messages.DeleteForMe(ctx, "missing", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	hist, err := s.messages.History(ctx, "c1", visibility.Rule{Viewer: "a"}, visibility.Page{})
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	hist, err = s.messages.History(ctx, "c1", visibility.Rule{Viewer: "b"}, visibility.Page{})
	require.NoError(t, err)
	assert.Empty(t, hist)

	unread, err := s.messages.CountUnread(ctx, "c1", visibility.Rule{Viewer: "b"})
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func testDeleteForEveryone(t *testing.T, s stores) {
	ctx := context.Background()
	m, err := s.messages.Append(ctx, "c1", "a", "b", "secret", models.TypeText)
	require.NoError(t, err)

	_, _, err = s.messages.DeleteForEveryone(ctx, m.ID, "b")
	assert.ErrorIs(t, err, ErrNotSender)

	got, changed, err := s.messages.DeleteForEveryone(ctx, m.ID, "a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.Tombstone, got.Content)

	_, changed, err = s.messages.DeleteForEveryone(ctx, m.ID, "a")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.messages.Edit(ctx, m.ID, "a", "again")
	assert.ErrorIs(t, err, ErrMessageDeleted)
	cur, err := s.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Tombstone, cur.Content)

	last, err := s.messages.LastVisible(ctx, "c1", visibility.Rule{Viewer: "b"})
	require.NoError(t, err)
	assert.Nil(t, last)
	hist, err := s.messages.History(ctx, "c1", visibility.Rule{Viewer: "b", IncludeTombstones: true}, visibility.Page{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].IsDeletedForEveryone)
}

func testClearWatermarkHidesEarlierMessages(t *testing.T, s stores) {
	ctx := context.Background()

	chat, _, err := s.chats.FindOrCreate(ctx, "a", "b")
	require.NoError(t, err)
	_, err = s.messages.Append(ctx, chat.ID, "a", "b", "old", models.TypeText)
	require.NoError(t, err)

	first, err := s.chats.SetClearWatermark(ctx, chat.ID, "b")
	require.NoError(t, err)
	second, err := s.chats.SetClearWatermark(ctx, chat.ID, "b")
	require.NoError(t, err)
	assert.True(t, second.Watermark("b").After(*first.Watermark("b")))
	assert.Nil(t, second.Watermark("a"))
	assert.Len(t, second.ClearedAt, 1)

	_, err = s.chats.SetClearWatermark(ctx, chat.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = s.chats.SetClearWatermark(ctx, "missing", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, err := s.messages.Append(ctx, chat.ID, "a", "b", "new", models.TypeText)
	require.NoError(t, err)

	forB, err := s.messages.History(ctx, chat.ID, visibility.For(second, "b"), visibility.Page{})
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, fresh.ID, forB[0].ID)

	forA, err := s.messages.History(ctx, chat.ID, visibility.For(second, "a"), visibility.Page{})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	unread, err := s.messages.CountUnread(ctx, chat.ID, visibility.For(second, "b"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)
}

func testConcurrentClearsNeverMoveBack(t *testing.T, s stores) {
	ctx := context.Background()
	chat, _, err := s.chats.FindOrCreate(ctx, "a", "b")
	require.NoError(t, err)

	const n = 16
	var (
		mu     sync.Mutex
		latest models.Chat
		wg     sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.chats.SetClearWatermark(ctx, chat.ID, "a")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if latest.Watermark("a") == nil || c.Watermark("a").After(*latest.Watermark("a")) {
				latest = *c
			}
		}()
	}
	wg.Wait()

	got, err := s.chats.Get(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Watermark("a"))
	assert.Equal(t, *latest.Watermark("a"), *got.Watermark("a"))
	assert.Nil(t, got.Watermark("b"))
}

func testEditKeepsOrdering(t *testing.T, s stores) {
	ctx := context.Background()
	first, err := s.messages.Append(ctx, "c1", "a", "b", "one", models.TypeText)
	require.NoError(t, err)
	_, err = s.messages.Append(ctx, "c1", "b", "a", "two", models.TypeText)
	require.NoError(t, err)

	_, err = s.messages.Edit(ctx, first.ID, "b", "hijack")
	assert.ErrorIs(t, err, ErrNotSender)
	_, err = s.messages.Edit(ctx, "missing", "a", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	edited, err := s.messages.Edit(ctx, first.ID, "a", "one!")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, first.CreatedAt, edited.CreatedAt)

	hist, err := s.messages.History(ctx, "c1", visibility.Rule{Viewer: "a"}, visibility.Page{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "one!", hist[0].Content)
	assert.Equal(t, "two", hist[1].Content)
}

func testHistoryPaging(t *testing.T, s stores) {
	ctx := context.Background()
	var all []*models.Message
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		m, err := s.messages.Append(ctx, "c1", "a", "b", text, models.TypeText)
		require.NoError(t, err)
		all = append(all, m)
	}

	rule := visibility.Rule{Viewer: "b"}
	latest, err := s.messages.History(ctx, "c1", rule, visibility.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "4", latest[0].Content)
	assert.Equal(t, "5", latest[1].Content)

	older, err := s.messages.History(ctx, "c1", rule, visibility.Page{Limit: 2, Before: all[3].CreatedAt})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "2", older[0].Content)
	assert.Equal(t, "3", older[1].Content)

	n, err := s.messages.MarkAllRead(ctx, "c1", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	n, err = s.messages.MarkAllRead(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err := s.messages.CountUnread(ctx, "c1", rule)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

// A before bound and a clear watermark narrow the same created_at range.
func testHistoryPagingAfterClear(t *testing.T, s stores) {
	ctx := context.Background()
	chat, _, err := s.chats.FindOrCreate(ctx, "a", "b")
	require.NoError(t, err)
	_, err = s.messages.Append(ctx, chat.ID, "a", "b", "hidden", models.TypeText)
	require.NoError(t, err)
	cleared, err := s.chats.SetClearWatermark(ctx, chat.ID, "b")
	require.NoError(t, err)

	var all []*models.Message
	for _, text := range []string{"1", "2", "3"} {
		m, err := s.messages.Append(ctx, chat.ID, "a", "b", text, models.TypeText)
		require.NoError(t, err)
		all = append(all, m)
	}

	rule := visibility.For(cleared, "b")
	page, err := s.messages.History(ctx, chat.ID, rule, visibility.Page{Limit: 5, Before: all[2].CreatedAt})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].Content)
	assert.Equal(t, "2", page[1].Content)

	page, err = s.messages.History(ctx, chat.ID, rule, visibility.Page{Before: all[0].CreatedAt})
	require.NoError(t, err)
	assert.Empty(t, page)

	last, err := s.messages.LastVisible(ctx, chat.ID, rule)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, all[2].ID, last.ID)
}

func testLedgerLastMessageSnapshot(t *testing.T, s stores) {
	ctx := context.Background()
	chat, _, err := s.chats.FindOrCreate(ctx, "a", "b")
	require.NoError(t, err)

	newer := models.LastMessage{MessageID: "m2", Text: "new", SenderID: "a", Time: now()}
	older := models.LastMessage{MessageID: "m1", Text: "old", SenderID: "a", Time: newer.Time.Add(-time.Millisecond)}
	require.NoError(t, s.chats.TouchLastMessage(ctx, chat.ID, newer))
	require.NoError(t, s.chats.TouchLastMessage(ctx, chat.ID, older))

	got, err := s.chats.Get(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m2", got.LastMessage.MessageID)
	assert.Equal(t, newer.Time, got.UpdatedAt)

	ok, err := s.chats.RefreshLastMessageText(ctx, chat.ID, "m1", "x")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.chats.RefreshLastMessageText(ctx, chat.ID, "m2", models.Tombstone)
	require.NoError(t, err)
	assert.True(t, ok)

	got.LastMessage.Text = "mutated"
	again, err := s.chats.Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Tombstone, again.LastMessage.Text)

	other, _, err := s.chats.FindOrCreate(ctx, "a", "c")
	require.NoError(t, err)
	require.NoError(t, s.chats.TouchLastMessage(ctx, other.ID, models.LastMessage{MessageID: "m3", Text: "hey", SenderID: "c", Time: now()}))

	list, err := s.chats.ListForUser(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, other.ID, list[0].ID)
	assert.Equal(t, chat.ID, list[1].ID)

	ids, err := s.chats.ListIDsForUser(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{chat.ID}, ids)
}

func testUserStoreContacts(t *testing.T, s stores) {
	ctx := context.Background()
	u := &models.User{Phone: "9876543210", Name: "Asha"}
	require.NoError(t, s.users.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.ErrorIs(t, s.users.Create(ctx, &models.User{Phone: "9876543210"}), ErrDuplicate)

	c := models.Contact{Phone: "9123456780", Name: "Ravi"}
	require.NoError(t, s.users.AddContact(ctx, u.ID, c))
	assert.ErrorIs(t, s.users.AddContact(ctx, u.ID, models.Contact{Phone: c.Phone, Name: "Other"}), ErrDuplicate)
	assert.ErrorIs(t, s.users.AddContact(ctx, "nobody", c), ErrNotFound)

	got, err := s.users.GetByPhone(ctx, "9876543210")
	require.NoError(t, err)
	name, ok := got.ContactName("9123456780")
	assert.True(t, ok)
	assert.Equal(t, "Ravi", name)
	assert.Len(t, got.Contacts, 1)

	found, err := s.users.FindByPhones(ctx, []string{"9876543210", "9876543210", "1111111111"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = s.users.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testConcurrentAddContact(t *testing.T, s stores) {
	ctx := context.Background()
	u := &models.User{Phone: "9876543210", Name: "Asha"}
	require.NoError(t, s.users.Create(ctx, u))

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.users.AddContact(ctx, u.ID, models.Contact{Phone: "9123456780", Name: "Ravi"})
		}(i)
	}
	wg.Wait()

	saved := 0
	for _, err := range errs {
		if err == nil {
			saved++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, saved)

	got, err := s.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, got.Contacts, 1)
}
