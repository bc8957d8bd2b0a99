package telegram

import (
	"context"
	"fmt"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// liveRPC is the subset of the Telegram API the live system adapter calls.
type liveRPC interface {
	AllChats(ctx context.Context) ([]tg.ChatClass, error)
	Participant(
		ctx context.Context,
		channel *tg.InputChannel,
		participant tg.InputPeerClass,
	) (tg.ChannelParticipantClass, []tg.UserClass, error)
	EditBanned(
		ctx context.Context,
		channel *tg.InputChannel,
		participant tg.InputPeerClass,
		rights tg.ChatBannedRights,
	) error
	EditDefaultBannedRights(ctx context.Context, peer tg.InputPeerClass, rights tg.ChatBannedRights) error
}

type gotdLiveRPC struct {
	raw *tg.Client
}

func newGotdLiveRPC(client *gotdtelegram.Client) gotdLiveRPC {
	return gotdLiveRPC{raw: client.API()}
}

func (r gotdLiveRPC) AllChats(ctx context.Context) ([]tg.ChatClass, error) {
	result, err := r.raw.MessagesGetAllChats(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get all chats: %w", err)
	}

	return result.GetChats(), nil
}

func (r gotdLiveRPC) Participant(
	ctx context.Context,
	channel *tg.InputChannel,
	participant tg.InputPeerClass,
) (tg.ChannelParticipantClass, []tg.UserClass, error) {
	result, err := r.raw.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     channel,
		Participant: participant,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get participant: %w", err)
	}

	return result.Participant, result.Users, nil
}

func (r gotdLiveRPC) EditBanned(
	ctx context.Context,
	channel *tg.InputChannel,
	participant tg.InputPeerClass,
	rights tg.ChatBannedRights,
) error {
	if _, err := r.raw.ChannelsEditBanned(ctx, &tg.ChannelsEditBannedRequest{
		Channel:      channel,
		Participant:  participant,
		BannedRights: rights,
	}); err != nil {
		return fmt.Errorf("edit banned: %w", err)
	}

	return nil
}

func (r gotdLiveRPC) EditDefaultBannedRights(
	ctx context.Context,
	peer tg.InputPeerClass,
	rights tg.ChatBannedRights,
) error {
	if _, err := r.raw.MessagesEditChatDefaultBannedRights(ctx, &tg.MessagesEditChatDefaultBannedRightsRequest{
		Peer:         peer,
		BannedRights: rights,
	}); err != nil {
		return fmt.Errorf("edit default banned rights: %w", err)
	}

	return nil
}
