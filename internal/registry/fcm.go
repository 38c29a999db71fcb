package registry

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/push"
)

// topicManager is the subset of *messaging.Client used by FCMTopics.
type topicManager interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// ErrNotFCMToken is returned for tokens issued by APNs.
var ErrNotFCMToken = errors.New("registry: token was not issued by FCM")

// NewFCMClient builds a messaging client. An empty credentialsFile uses
// application default credentials.
func NewFCMClient(ctx context.Context, credentialsFile, projectID string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return client, nil
}

// FCMTopics keeps the installation subscribed to a broadcast topic across
// token rotations.
type FCMTopics struct {
	client topicManager
	topic  string
}

// NewFCMTopics returns a token sink for topic.
func NewFCMTopics(client topicManager, topic string) (*FCMTopics, error) {
	if client == nil {
		return nil, errors.New("registry: fcm client is required")
	}
	if topic == "" {
		return nil, errors.New("registry: fcm topic is required")
	}
	return &FCMTopics{client: client, topic: topic}, nil
}

// Name implements push.TokenSink.
func (f *FCMTopics) Name() string { return "fcm-topic" }

// StoreToken implements push.TokenSink.
func (f *FCMTopics) StoreToken(ctx context.Context, family, token, previous string) error {
	if family != push.FamilyAndroid {
		return fmt.Errorf("%w: family %s", ErrNotFCMToken, family)
	}
	resp, err := f.client.SubscribeToTopic(ctx, []string{token}, f.topic)
	if err := topicResult("subscribe", resp, err); err != nil {
		return err
	}
	if previous == "" || previous == token {
		return nil
	}
	// the old token may already be invalid; failing to unsubscribe it is not fatal
	resp, err = f.client.UnsubscribeFromTopic(ctx, []string{previous}, f.topic)
	if err := topicResult("unsubscribe", resp, err); err != nil {
		logging.Get().Warn().Err(err).Str("topic", f.topic).Msg("failed to unsubscribe rotated token")
	}
	return nil
}

func topicResult(op string, resp *messaging.TopicManagementResponse, err error) error {
	if err != nil {
		return fmt.Errorf("%s topic: %w", op, err)
	}
	if resp != nil && resp.FailureCount > 0 {
		reason := "unknown"
		if len(resp.Errors) > 0 && resp.Errors[0] != nil {
			reason = resp.Errors[0].Reason
		}
		return fmt.Errorf("%s topic: %d failures: %s", op, resp.FailureCount, reason)
	}
	return nil
}
