// Package provision creates one recurring EventBridge trigger per log
// group, each invoking the export function with a fixed payload. It is
// bootstrap code: re-applying is idempotent, and teardown removes the
// triggers only — exported data and watermark records are never touched.
package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// ruleNameMaxLen is the EventBridge rule-name limit.
const ruleNameMaxLen = 64

// Plan describes the triggers to provision.
type Plan struct {
	LogGroups           []string
	InvocationTargetARN string
	ResourcePrefix      string
	DestinationBucket   string
	Region              string
	Interval            time.Duration
}

func (p Plan) validate() error {
	if len(p.LogGroups) == 0 {
		return errors.New("at least one log group required")
	}
	if p.InvocationTargetARN == "" {
		return errors.New("invocation target arn required")
	}
	if p.ResourcePrefix == "" {
		return errors.New("resource prefix required")
	}
	if p.DestinationBucket == "" {
		return errors.New("destination bucket required")
	}
	if p.Region == "" {
		return errors.New("region required")
	}
	if p.Interval < time.Minute {
		return fmt.Errorf("interval %s below the one minute rate floor", p.Interval)
	}
	if p.Interval%time.Minute != 0 {
		return fmt.Errorf("interval %s is not a whole number of minutes", p.Interval)
	}
	return nil
}

type eventsAPI interface {
	PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	RemoveTargets(ctx context.Context, params *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
	DeleteRule(ctx context.Context, params *eventbridge.DeleteRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error)
}

type lambdaAPI interface {
	AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	RemovePermission(ctx context.Context, params *lambda.RemovePermissionInput, optFns ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error)
}

// Provisioner applies and tears down trigger plans.
type Provisioner struct {
	events eventsAPI
	lambda lambdaAPI
	logger *slog.Logger
}

// New returns a Provisioner backed by the real EventBridge and Lambda
// clients for the plan's region.
func New(ctx context.Context, region string, logger *slog.Logger) (*Provisioner, error) {
	if region == "" {
		return nil, errors.New("region required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPIs(eventbridge.NewFromConfig(awsCfg), lambda.NewFromConfig(awsCfg), logger), nil
}

// NewWithAPIs returns a Provisioner over explicit API implementations.
func NewWithAPIs(events eventsAPI, lambdaClient lambdaAPI, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{events: events, lambda: lambdaClient, logger: logger}
}

// Apply creates or updates one rule per log group and returns the rule
// names. Re-applying an existing plan updates rules in place and treats
// an already-granted invoke permission as success.
func (p *Provisioner) Apply(ctx context.Context, plan Plan) ([]string, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}

	expression := rateExpression(plan.Interval)
	var ruleNames []string
	for _, group := range plan.LogGroups {
		ruleName := RuleName(plan.ResourcePrefix, group)

		ruleResp, err := p.events.PutRule(ctx, &eventbridge.PutRuleInput{
			Name:               aws.String(ruleName),
			ScheduleExpression: aws.String(expression),
			State:              ebtypes.RuleStateEnabled,
			Description:        aws.String(fmt.Sprintf("Scheduled log export for %s", group)),
		})
		if err != nil {
			return ruleNames, fmt.Errorf("put rule %s: %w", ruleName, err)
		}

		payload, err := json.Marshal(map[string]string{
			"LOG_GROUP_NAME":     group,
			"DESTINATION_BUCKET": plan.DestinationBucket,
			"REGION":             plan.Region,
		})
		if err != nil {
			return ruleNames, fmt.Errorf("encode payload %s: %w", ruleName, err)
		}
		targets, err := p.events.PutTargets(ctx, &eventbridge.PutTargetsInput{
			Rule: aws.String(ruleName),
			Targets: []ebtypes.Target{
				{
					Id:    aws.String("export-invocation"),
					Arn:   aws.String(plan.InvocationTargetARN),
					Input: aws.String(string(payload)),
				},
			},
		})
		if err != nil {
			return ruleNames, fmt.Errorf("put targets %s: %w", ruleName, err)
		}
		if targets.FailedEntryCount > 0 {
			return ruleNames, fmt.Errorf("put targets %s: %d entries failed", ruleName, targets.FailedEntryCount)
		}

		_, err = p.lambda.AddPermission(ctx, &lambda.AddPermissionInput{
			FunctionName: aws.String(plan.InvocationTargetARN),
			StatementId:  aws.String(ruleName),
			Action:       aws.String("lambda:InvokeFunction"),
			Principal:    aws.String("events.amazonaws.com"),
			SourceArn:    ruleResp.RuleArn,
		})
		if err != nil {
			var conflict *lambdatypes.ResourceConflictException
			if !errors.As(err, &conflict) {
				return ruleNames, fmt.Errorf("add permission %s: %w", ruleName, err)
			}
			// Permission already granted by a previous apply.
		}

		p.logger.Info("trigger provisioned", "rule", ruleName, "log_group", group, "schedule", expression)
		ruleNames = append(ruleNames, ruleName)
	}
	return ruleNames, nil
}

// Teardown removes the plan's triggers and invoke permissions. Missing
// rules are a no-op success so a repeated or stale delete cannot fail.
// Exported objects and watermark records are deliberately left behind.
func (p *Provisioner) Teardown(ctx context.Context, plan Plan) error {
	if len(plan.LogGroups) == 0 {
		return nil
	}
	for _, group := range plan.LogGroups {
		ruleName := RuleName(plan.ResourcePrefix, group)

		_, err := p.events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
			Rule: aws.String(ruleName),
			Ids:  []string{"export-invocation"},
		})
		if err != nil && !isRuleNotFound(err) {
			return fmt.Errorf("remove targets %s: %w", ruleName, err)
		}

		_, err = p.events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
			Name: aws.String(ruleName),
		})
		if err != nil && !isRuleNotFound(err) {
			return fmt.Errorf("delete rule %s: %w", ruleName, err)
		}

		if plan.InvocationTargetARN != "" {
			_, err = p.lambda.RemovePermission(ctx, &lambda.RemovePermissionInput{
				FunctionName: aws.String(plan.InvocationTargetARN),
				StatementId:  aws.String(ruleName),
			})
			if err != nil && !isPermissionNotFound(err) {
				return fmt.Errorf("remove permission %s: %w", ruleName, err)
			}
		}

		p.logger.Info("trigger removed", "rule", ruleName, "log_group", group)
	}
	return nil
}

// RuleName derives a deterministic rule name for a log group, kept
// within the EventBridge name limit. Names that would be truncated get
// a hash of the full group name so groups sharing a long prefix never
// collide on one rule.
func RuleName(prefix, group string) string {
	name := prefix + "-" + strings.ReplaceAll(group, "/", "-")
	if len(name) <= ruleNameMaxLen {
		return name
	}
	sum := sha256.Sum256([]byte(group))
	suffix := "-" + hex.EncodeToString(sum[:4])
	return name[:ruleNameMaxLen-len(suffix)] + suffix
}

func rateExpression(interval time.Duration) string {
	if interval%time.Hour == 0 {
		hours := int(interval / time.Hour)
		if hours == 1 {
			return "rate(1 hour)"
		}
		return fmt.Sprintf("rate(%d hours)", hours)
	}
	minutes := int(interval / time.Minute)
	if minutes == 1 {
		return "rate(1 minute)"
	}
	return fmt.Sprintf("rate(%d minutes)", minutes)
}

func isRuleNotFound(err error) bool {
	var notFound *ebtypes.ResourceNotFoundException
	return errors.As(err, &notFound)
}

func isPermissionNotFound(err error) bool {
	var notFound *lambdatypes.ResourceNotFoundException
	return errors.As(err, &notFound)
}
