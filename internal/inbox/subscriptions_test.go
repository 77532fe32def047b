package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	calls []string
	fail  map[string]error
}

func (p *recordingPusher) Subscribe(_ context.Context, channel string) error {
	p.calls = append(p.calls, "+"+channel)
	return p.fail[channel]
}

func (p *recordingPusher) Unsubscribe(_ context.Context, channel string) error {
	p.calls = append(p.calls, "-"+channel)
	return nil
}

func TestSubscriptions_OnePerChannel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	push := &recordingPusher{}
	subs := newSubscriptions(push)

	req.NoError(subs.acquire(ctx, "conversation:a"))
	req.NoError(subs.acquire(ctx, "conversation:a"))
	req.NoError(subs.acquire(ctx, "user:b:messages"))
	req.True(subs.held("conversation:a"))

	req.NoError(subs.release(ctx, "conversation:a"))
	req.NoError(subs.release(ctx, "conversation:a"))
	req.False(subs.held("conversation:a"))

	req.NoError(subs.releaseAll(ctx))
	req.Equal([]string{"+conversation:a", "+user:b:messages", "-conversation:a", "-user:b:messages"}, push.calls)
}

func TestSubscriptions_FailedSubscribeIsNotHeld(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	denied := errors.New("forbidden")
	push := &recordingPusher{fail: map[string]error{"conversation:x": denied}}
	subs := newSubscriptions(push)

	req.ErrorIs(subs.acquire(ctx, "conversation:x"), denied)
	req.False(subs.held("conversation:x"))
	req.NoError(subs.release(ctx, "conversation:x"))
	req.Equal([]string{"+conversation:x"}, push.calls)
}
