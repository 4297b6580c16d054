package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whatsapp-relay/internal/domain"
)

const (
	pkPrefixUser       = "USER#"
	pkPrefixConv       = "CONV#"
	skConversation     = "CONVERSATION"
	skPrefixMsg        = "MSG#"
	metaMessageIndex   = "metaMessageId-index"
	attrMetaMessageID  = "metaMessageId"
	sortableTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client stores conversations and messages in a single DynamoDB table.
//
// Layout:
//
//	USER#<phone> / CONVERSATION        conversation, one per address
//	CONV#<id>    / MSG#<time>#<msgID>  messages, sortable by time
//
// Bot messages that were transmitted carry metaMessageId, which is the
// partition key of the sparse metaMessageId-index GSI.
type Client struct {
	api       dynamodbAPI
	tableName string
}

var _ ReadWriter = (*Client)(nil)

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func userPK(userPhone string) string {
	return pkPrefixUser + userPhone
}

func convPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

// msgSK uses a fixed-width timestamp so lexical order matches time order.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + ts.UTC().Format(sortableTimeLayout) + "#" + messageID
}

// FindConversation reads the conversation item for userPhone.
func (c *Client) FindConversation(ctx context.Context, userPhone string) (domain.Conversation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userPhone)},
			"SK": &types.AttributeValueMemberS{Value: skConversation},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: FindConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: FindConversation unmarshal: %w", err)
	}
	return conv, true, nil
}

// GetOrCreateConversation relies on a conditional put keyed by address, so
// concurrent first contacts converge on a single item.
func (c *Client) GetOrCreateConversation(ctx context.Context, userPhone string, origin domain.Origin) (domain.Conversation, bool, error) {
	existing, ok, err := c.FindConversation(ctx, userPhone)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation: %w", err)
	}
	if ok {
		return existing, false, nil
	}

	conv := NewConversation(userPhone, origin)
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return conv, true, nil
	}

	var conflict *types.ConditionalCheckFailedException
	if !errors.As(err, &conflict) {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation put: %w", err)
	}

	// Lost the race to another writer; read the winner.
	existing, ok, err = c.FindConversation(ctx, userPhone)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, false, errors.New("repository: GetOrCreateConversation: conversation missing after conflict")
	}
	return existing, false, nil
}

// RecentMessages queries MSG# items for a conversation newest first and
// returns them in chronological order.
func (c *Client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	reverseMessages(msgs)
	return msgs, nil
}

// SaveMessages writes every message in one transaction.
func (c *Client) SaveMessages(ctx context.Context, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" || msg.ConversationID == "" {
			return errors.New("repository: SaveMessages: message id and conversation id are required")
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(msg),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: SaveMessages: %w", err)
	}
	return nil
}

// SetDeliveryStatus finds the message through the metaMessageId GSI and
// overwrites its status.
func (c *Client) SetDeliveryStatus(ctx context.Context, metaMessageID string, status domain.DeliveryStatus) (bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(metaMessageIndex),
		KeyConditionExpression: aws.String("#meta = :meta"),
		ExpressionAttributeNames: map[string]string{
			"#meta": attrMetaMessageID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: metaMessageID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("repository: SetDeliveryStatus query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return false, nil
	}

	pk, err := strAttr(out.Items[0], "PK")
	if err != nil {
		return false, fmt.Errorf("repository: SetDeliveryStatus: %w", err)
	}
	sk, err := strAttr(out.Items[0], "SK")
	if err != nil {
		return false, fmt.Errorf("repository: SetDeliveryStatus: %w", err)
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		// status is a DynamoDB reserved word.
		UpdateExpression:         aws.String("SET #status = :status"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		var gone *types.ConditionalCheckFailedException
		if errors.As(err, &gone) {
			return false, nil
		}
		return false, fmt.Errorf("repository: SetDeliveryStatus update: %w", err)
	}
	return true, nil
}

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)}); err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	return nil
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(conv.UserPhone)},
		"SK":        &types.AttributeValueMemberS{Value: skConversation},
		"id":        &types.AttributeValueMemberS{Value: conv.ID},
		"userPhone": &types.AttributeValueMemberS{Value: conv.UserPhone},
		"origin":    &types.AttributeValueMemberS{Value: string(conv.Origin)},
		"startTime": &types.AttributeValueMemberS{Value: conv.StartTime.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Conversation{}, err
	}
	phone, err := strAttr(item, "userPhone")
	if err != nil {
		return domain.Conversation{}, err
	}
	origin, _ := strAttr(item, "origin") // allow empty
	start, err := timeAttr(item, "startTime")
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:        id,
		UserPhone: phone,
		Origin:    domain.Origin(origin),
		StartTime: start,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":             &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"sender":         &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp":      &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	if msg.Status != nil {
		item["status"] = &types.AttributeValueMemberS{Value: string(*msg.Status)}
	}
	// Omitted when unset so the GSI stays sparse.
	if msg.MetaMessageID != nil && *msg.MetaMessageID != "" {
		item[attrMetaMessageID] = &types.AttributeValueMemberS{Value: *msg.MetaMessageID}
	}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         domain.Sender(sender),
		Content:        content,
		Timestamp:      ts,
	}
	if status, err := strAttr(item, "status"); err == nil {
		msg.Status = domain.StatusPtr(domain.DeliveryStatus(status))
	}
	if metaID, err := strAttr(item, attrMetaMessageID); err == nil {
		msg.MetaMessageID = &metaID
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
