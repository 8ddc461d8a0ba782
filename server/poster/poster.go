package poster

import (
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"

	"github.com/mattermost/mattermost-plugin-vma/server/formatter"
	"github.com/mattermost/mattermost-plugin-vma/server/hashtag"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
)

// Poster posts incident notifications to Mattermost channels.
// This struct is stateless - it only holds immutable configuration (API, botID and locale).
type Poster struct {
	api    plugin.API
	botID  string
	locale string
}

// New creates a new Poster instance.
func New(api plugin.API, botID, locale string) *Poster {
	return &Poster{
		api:    api,
		botID:  botID,
		locale: locale,
	}
}

// PostTriggered posts a formatted alert to a channel and returns the ID of the created post.
func (p *Poster) PostTriggered(channelID string, event target.Triggered) (string, error) {
	post := p.newPost(channelID, formatter.FormatTriggered(event, p.locale))
	post.Message = hashtag.Generate(event, p.locale)

	created, err := p.api.CreatePost(post)
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// PostCancelled posts the end of an incident. When rootID is set the post is a reply in the
// thread of the original alert.
func (p *Poster) PostCancelled(channelID, rootID string, event target.Cancelled) error {
	post := p.newPost(channelID, formatter.FormatCancelled(event, p.locale))
	post.RootId = rootID

	if _, err := p.api.CreatePost(post); err != nil {
		return err
	}
	return nil
}

func (p *Poster) newPost(channelID string, attachment *model.SlackAttachment) *model.Post {
	post := &model.Post{
		UserId:    p.botID,
		ChannelId: channelID,
		Type:      model.PostTypeSlackAttachment,
		Props:     model.StringInterface{},
	}
	model.ParseSlackAttachment(post, []*model.SlackAttachment{attachment})
	return post
}
