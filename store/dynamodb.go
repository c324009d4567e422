package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/replayflow"
)

// DynamoDBStore implements replayflow.Store using AWS DynamoDB
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
	now       func() time.Time
}

var _ replayflow.Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB-backed store
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// Run operations

func (s *DynamoDBStore) runItem(run *replayflow.Run) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}

	// Add keys
	item[AttrPK] = &types.AttributeValueMemberS{Value: runPK(run.RunID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: runSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeRun}

	// GSI keys, rewritten on every put since the status moves
	created := runCreatedSK(run.CreatedAt)
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: runGSI1PK(run.WorkflowID)}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: created}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: runGSI2PK(string(run.Status))}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: created}

	return item, nil
}

func (s *DynamoDBStore) CreateRun(ctx context.Context, run *replayflow.Run) error {
	item, err := s.runItem(run)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetRun(ctx context.Context, runID string) (*replayflow.Run, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: runPK(runID)},
			AttrSK: &types.AttributeValueMemberS{Value: runSK()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("run %s: %w", runID, replayflow.ErrNotFound)
	}

	var run replayflow.Run
	if err := attributevalue.UnmarshalMap(result.Item, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

func (s *DynamoDBStore) UpdateRun(ctx context.Context, run *replayflow.Run) error {
	item, err := s.runItem(run)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("run %s: %w", run.RunID, replayflow.ErrNotFound)
		}
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

// ListRuns queries the workflow index when a workflow is given and the
// status index otherwise, one partition per status when no status is set.
func (s *DynamoDBStore) ListRuns(ctx context.Context, filter replayflow.RunFilter) ([]*replayflow.Run, error) {
	var runs []*replayflow.Run

	if filter.WorkflowID != "" {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexWorkflowIndex),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: runGSI1PK(filter.WorkflowID)},
			},
			ScanIndexForward: aws.Bool(false),
		}
		if filter.Status != nil {
			input.FilterExpression = aws.String("#status = :status")
			input.ExpressionAttributeNames = map[string]string{"#status": "status"}
			input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: string(*filter.Status)}
		}
		found, err := s.queryRuns(ctx, input)
		if err != nil {
			return nil, err
		}
		return sortAndLimit(found, filter.Limit), nil
	}

	statuses := []replayflow.RunStatus{
		replayflow.RunStatusQueued,
		replayflow.RunStatusRunning,
		replayflow.RunStatusWaitingForAuth,
		replayflow.RunStatusNeedsUserDisambiguation,
		replayflow.RunStatusSucceeded,
		replayflow.RunStatusFailed,
	}
	if filter.Status != nil {
		statuses = []replayflow.RunStatus{*filter.Status}
	}

	for _, status := range statuses {
		found, err := s.queryRuns(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexStatusIndex),
			KeyConditionExpression: aws.String("GSI2PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: runGSI2PK(string(status))},
			},
			ScanIndexForward: aws.Bool(false),
		})
		if err != nil {
			return nil, err
		}
		runs = append(runs, found...)
	}

	return sortAndLimit(runs, filter.Limit), nil
}

func (s *DynamoDBStore) queryRuns(ctx context.Context, input *dynamodb.QueryInput) ([]*replayflow.Run, error) {
	var runs []*replayflow.Run
	var lastEvaluatedKey map[string]types.AttributeValue

	// Paginate through all results
	for {
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		for _, item := range result.Items {
			var run replayflow.Run
			if err := attributevalue.UnmarshalMap(item, &run); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run: %w", err)
			}
			runs = append(runs, &run)
		}

		// Check if there are more results
		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return runs, nil
}

// Log operations

// AppendLog writes a new entry; an existing entry with the same sequence
// number is never overwritten.
func (s *DynamoDBStore) AppendLog(ctx context.Context, entry *replayflow.LogEntry) error {
	if entry.Seq <= 0 {
		return fmt.Errorf("log entry for run %s has no sequence number", entry.RunID)
	}

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: runLogPK(entry.RunID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: runLogSK(entry.Seq)}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeRunLog}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) ListLogs(ctx context.Context, runID string) ([]*replayflow.LogEntry, error) {
	var entries []*replayflow.LogEntry
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		queryInput := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: runLogPK(runID)},
				":sk": &types.AttributeValueMemberS{Value: logPrefix()},
			},
			ConsistentRead: aws.Bool(true),
		}

		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list log entries: %w", err)
		}

		for _, item := range result.Items {
			var entry replayflow.LogEntry
			if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
			}
			entries = append(entries, &entry)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return entries, nil
}

// Workflow operations

func (s *DynamoDBStore) workflowItem(wf *replayflow.WorkflowTemplate) (map[string]types.AttributeValue, error) {
	// steps are a sum type, so the template is kept as its JSON form
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow: %w", err)
	}

	return map[string]types.AttributeValue{
		AttrPK:         &types.AttributeValueMemberS{Value: workflowPK(wf.WorkflowID)},
		AttrSK:         &types.AttributeValueMemberS{Value: workflowSK()},
		AttrEntityType: &types.AttributeValueMemberS{Value: EntityTypeWorkflow},
		AttrData:       &types.AttributeValueMemberB{Value: data},
		"workflow_id":  &types.AttributeValueMemberS{Value: wf.WorkflowID},
		"name":         &types.AttributeValueMemberS{Value: wf.Name},
		"updated_at":   &types.AttributeValueMemberS{Value: wf.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}, nil
}

func (s *DynamoDBStore) SaveWorkflow(ctx context.Context, wf *replayflow.WorkflowTemplate) error {
	item, err := s.workflowItem(wf)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetWorkflow(ctx context.Context, workflowID string) (*replayflow.WorkflowTemplate, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: workflowPK(workflowID)},
			AttrSK: &types.AttributeValueMemberS{Value: workflowSK()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, replayflow.ErrNotFound)
	}

	dataAttr, ok := result.Item[AttrData]
	if !ok {
		return nil, fmt.Errorf("workflow %s has no data field", workflowID)
	}
	data, ok := dataAttr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("workflow %s data field is not binary", workflowID)
	}

	var wf replayflow.WorkflowTemplate
	if err := json.Unmarshal(data.Value, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}

	return &wf, nil
}

func (s *DynamoDBStore) GetResolvedSelector(ctx context.Context, workflowID string, stepIndex int) (*replayflow.ResolvedSelector, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: selectorPK(workflowID)},
			AttrSK: &types.AttributeValueMemberS{Value: selectorSK(stepIndex)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get resolved selector: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("resolved selector %s/%d: %w", workflowID, stepIndex, replayflow.ErrNotFound)
	}

	var sel replayflow.ResolvedSelector
	if err := attributevalue.UnmarshalMap(result.Item, &sel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolved selector: %w", err)
	}

	return &sel, nil
}

// RecordResolution writes the resolved selector and the updated workflow in
// one transaction. Concurrent resolutions of the same step are
// last-writer-wins.
func (s *DynamoDBStore) RecordResolution(ctx context.Context, workflowID string, stepIndex int, selector string, frame []int) (*replayflow.ResolvedSelector, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	updated, err := wf.WithLearnedSelector(stepIndex, selector, frame)
	if err != nil {
		return nil, err
	}

	prev, err := s.GetResolvedSelector(ctx, workflowID, stepIndex)
	if err != nil && !errors.Is(err, replayflow.ErrNotFound) {
		return nil, err
	}
	next := prev.Next(workflowID, stepIndex, selector, frame, s.now())

	selItem, err := attributevalue.MarshalMap(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolved selector: %w", err)
	}
	selItem[AttrPK] = &types.AttributeValueMemberS{Value: selectorPK(workflowID)}
	selItem[AttrSK] = &types.AttributeValueMemberS{Value: selectorSK(stepIndex)}
	selItem[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeResolvedSelector}

	wfItem, err := s.workflowItem(updated)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(s.tableName),
					Item:      selItem,
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                wfItem,
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record resolution: %w", err)
	}

	return next, nil
}
