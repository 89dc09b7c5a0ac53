package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/pubsub"
	"github.com/nucleus/blog-api/internal/reqctx"
)

// Mutation types carried by subscription payloads.
const (
	MutationCreated = "CREATED"
	MutationUpdated = "UPDATED"
	MutationDeleted = "DELETED"
)

// Topic prefixes on the event bus.
const (
	topicPost    = "post"
	topicComment = "comment"
	topicMyPost  = "myPost"
)

// PostEvent is published on the post and myPost.<userID> topics.
type PostEvent struct {
	Mutation string    `json:"mutation"`
	Node     *orm.Post `json:"node"`
}

// CommentEvent is published on the comment.<postID> topic.
type CommentEvent struct {
	Mutation string       `json:"mutation"`
	Node     *orm.Comment `json:"node"`
}

// publish sends an event and logs a failure instead of failing the mutation
// that already committed.
func (r *Resolver) publish(ctx context.Context, rc *reqctx.Context, topic string, event any) {
	if err := rc.PubSub.Publish(ctx, topic, event); err != nil {
		r.log.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// publishPost notifies the public feed and the author's own feed. wasPublished
// is the state before the mutation.
func (r *Resolver) publishPost(ctx context.Context, rc *reqctx.Context, mutation string, post *orm.Post, wasPublished bool) {
	switch {
	case mutation == MutationUpdated && wasPublished && !post.Published:
		r.publish(ctx, rc, topicPost, PostEvent{Mutation: MutationDeleted, Node: post})
	case mutation == MutationUpdated && !wasPublished && post.Published:
		r.publish(ctx, rc, topicPost, PostEvent{Mutation: MutationCreated, Node: post})
	case mutation == MutationDeleted && wasPublished:
		r.publish(ctx, rc, topicPost, PostEvent{Mutation: MutationDeleted, Node: post})
	case post.Published:
		r.publish(ctx, rc, topicPost, PostEvent{Mutation: mutation, Node: post})
	}
	r.publish(ctx, rc, pubsub.Topic(topicMyPost, post.AuthorID), PostEvent{Mutation: mutation, Node: post})
}

func (r *Resolver) publishComment(ctx context.Context, rc *reqctx.Context, mutation string, comment *orm.Comment) {
	r.publish(ctx, rc, pubsub.Topic(topicComment, comment.PostID), CommentEvent{Mutation: mutation, Node: comment})
}

// postStream turns bus messages into subscription payloads until ctx is done.
func (r *Resolver) postStream(ctx context.Context, msgs <-chan pubsub.Message) <-chan *postEventResolver {
	out := make(chan *postEventResolver)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev PostEvent
			if err := msg.Decode(&ev); err != nil {
				r.log.Warn("dropping malformed event", zap.String("topic", msg.Topic), zap.Error(err))
				continue
			}
			payload := &postEventResolver{mutation: ev.Mutation}
			if ev.Node != nil {
				payload.node = r.post(ev.Node)
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Resolver) commentStream(ctx context.Context, msgs <-chan pubsub.Message) <-chan *commentEventResolver {
	out := make(chan *commentEventResolver)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev CommentEvent
			if err := msg.Decode(&ev); err != nil {
				r.log.Warn("dropping malformed event", zap.String("topic", msg.Topic), zap.Error(err))
				continue
			}
			payload := &commentEventResolver{mutation: ev.Mutation}
			if ev.Node != nil {
				payload.node = r.comment(ev.Node)
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
