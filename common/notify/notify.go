// Package notify mirrors the master's host-visible ###-prefixed events
// to an SNS topic, for remote alerting when the host computer isn't the
// only place a reboot or offline appliance needs to be noticed.
// Disabled unless a topic ARN is configured; the host line protocol
// (spec.md §6.2) remains the sole required interface regardless.
package notify

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/stustanet/meshwatch/common/log"
)

var logger = log.New("notify")

// Notifier publishes host events to an SNS topic. The zero value is a
// no-op Notifier: Publish silently does nothing when topicARN is empty.
type Notifier struct {
	topicARN string
	sns      *sns.SNS
}

// New creates a Notifier publishing to topicARN in region. Passing an
// empty topicARN yields a disabled Notifier whose Publish calls are
// no-ops, so callers can construct one unconditionally and only check
// configuration once at startup.
func New(region, topicARN string) (*Notifier, error) {
	if topicARN == "" {
		return &Notifier{}, nil
	}
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region).WithCredentials(credentials.NewEnvCredentials()))
	if err != nil {
		return nil, err
	}
	return &Notifier{topicARN: topicARN, sns: sns.New(sess)}, nil
}

// Publish sends message (a raw ###-prefixed host event line) to the
// configured topic. A disabled Notifier returns nil immediately.
func (n *Notifier) Publish(message string) error {
	if n == nil || n.topicARN == "" {
		return nil
	}
	_, err := n.sns.Publish(&sns.PublishInput{
		Message:  aws.String(message),
		TopicArn: aws.String(n.topicARN),
	})
	if err != nil {
		logger.Warningf("sns publish failed: %v", err)
	}
	return err
}
