package domain

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/transport"
)

// fakeClient is an in-memory transport.Client that records every call
// and lets tests inject failures and push events.
type fakeClient struct {
	mu sync.Mutex

	stream chan events.Event

	queryChannelsReqs []transport.QueryChannelsRequest
	queryChannelsErr  error

	queryChannelCalls int
	queryChannelErr   error

	sentMessages    []models.Message
	updatedMessages []models.Message
	deletedMessages []string
	sendMessageErr  error

	sentReactions    []models.Reaction
	deletedReactions []models.Reaction

	markReadCIDs []string
	typingEvents []bool

	syncHistoryCalls  int
	syncHistoryEvents []events.Event
}

var _ transport.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{stream: make(chan events.Event, 64)}
}

func (f *fakeClient) push(ev events.Event) { f.stream <- ev }

func (f *fakeClient) failSendMessage(err error) {
	f.mu.Lock()
	f.sendMessageErr = err
	f.mu.Unlock()
}

func newPermanentErr() error {
	return transport.NewError(17, 403, "not allowed")
}

func (f *fakeClient) pushConnected(userID string) {
	f.push(events.Connected{Base: events.At(time.Now()), Me: models.User{ID: userID}})
}

func (f *fakeClient) QueryChannels(ctx context.Context, req transport.QueryChannelsRequest) (*transport.QueryChannelsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryChannelsReqs = append(f.queryChannelsReqs, req)
	if f.queryChannelsErr != nil {
		return nil, f.queryChannelsErr
	}

	// An In("cid", ...) filter echoes one state per requested cid; any
	// other filter yields an empty page.
	resp := &transport.QueryChannelsResponse{}
	if req.Filter.Op == models.FilterIn && req.Filter.Field == "cid" {
		if cids, ok := req.Filter.Value.([]string); ok {
			for _, cid := range cids {
				channelType, channelID, err := models.ParseCID(cid)
				if err != nil {
					continue
				}
				resp.Channels = append(resp.Channels, transport.ChannelState{
					Channel: models.Channel{CID: cid, Type: channelType, ID: channelID},
				})
			}
		}
	}
	return resp, nil
}

func (f *fakeClient) queryChannelsCalls() []transport.QueryChannelsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.QueryChannelsRequest(nil), f.queryChannelsReqs...)
}

func (f *fakeClient) QueryChannel(ctx context.Context, cid string, req transport.QueryChannelRequest) (*transport.ChannelState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryChannelCalls++
	if f.queryChannelErr != nil {
		return nil, f.queryChannelErr
	}
	channelType, channelID, err := models.ParseCID(cid)
	if err != nil {
		return nil, err
	}
	return &transport.ChannelState{
		Channel: models.Channel{CID: cid, Type: channelType, ID: channelID},
	}, nil
}

func (f *fakeClient) CreateChannel(ctx context.Context, ch models.Channel) (*transport.ChannelState, error) {
	return &transport.ChannelState{Channel: ch}, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendMessageErr != nil {
		return nil, f.sendMessageErr
	}
	f.sentMessages = append(f.sentMessages, msg)
	confirmed := msg
	confirmed.UpdatedAt = time.Now()
	return &confirmed, nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentMessages)
}

func (f *fakeClient) UpdateMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedMessages = append(f.updatedMessages, msg)
	confirmed := msg
	return &confirmed, nil
}

func (f *fakeClient) DeleteMessage(ctx context.Context, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMessages = append(f.deletedMessages, messageID)
	now := time.Now()
	return &models.Message{ID: messageID, DeletedAt: &now}, nil
}

func (f *fakeClient) SendReaction(ctx context.Context, r models.Reaction, enforceUnique bool) (*models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentReactions = append(f.sentReactions, r)
	confirmed := r
	return &confirmed, nil
}

func (f *fakeClient) DeleteReaction(ctx context.Context, r models.Reaction) (*models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedReactions = append(f.deletedReactions, r)
	confirmed := r
	return &confirmed, nil
}

func (f *fakeClient) MarkRead(ctx context.Context, cid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCIDs = append(f.markReadCIDs, cid)
	return nil
}

func (f *fakeClient) markReadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markReadCIDs)
}

func (f *fakeClient) SendTypingEvent(ctx context.Context, cid string, start bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingEvents = append(f.typingEvents, start)
	return nil
}

func (f *fakeClient) setSyncHistory(evs ...events.Event) {
	f.mu.Lock()
	f.syncHistoryEvents = evs
	f.mu.Unlock()
}

func (f *fakeClient) syncHistoryCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncHistoryCalls
}

func (f *fakeClient) SyncHistory(ctx context.Context, cids []string, since time.Time) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncHistoryCalls++
	return f.syncHistoryEvents, nil
}

func (f *fakeClient) Events() <-chan events.Event {
	return f.stream
}
