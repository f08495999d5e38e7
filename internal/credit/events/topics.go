package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
)

// TopicCreator is the part of *kadm.Client used to bootstrap topics.
type TopicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// EnsureTopics creates the prefixed topics that do not exist yet.
func EnsureTopics(ctx context.Context, admin TopicCreator, prefix string, partitions int32, replicationFactor int16, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = prefix + t
	}
	responses, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, names...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	var errs []error
	for _, name := range names {
		resp, ok := responses[name]
		if !ok || resp.Err == nil || errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			continue
		}
		errs = append(errs, fmt.Errorf("topic %s: %w", name, resp.Err))
	}
	return errors.Join(errs...)
}
