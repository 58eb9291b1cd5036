package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBStore implements the Store interface using AWS DynamoDB.
// Single-table design with PK/SK pattern:
//   - Jobs: PK=jobID, SK="JOB"
//   - Flows: PK=flowID, SK="FLOW"
//   - Crons: PK="CRON#<name>", SK="CRON"
//   - Cron locks: PK="CRON_LOCK#<name>#<timestamp>", SK="LOCK"
//   - Scheduled: PK="SCHEDULED#<jobID>", SK="SCHEDULED"
//   - Retry: PK="RETRY#<jobID>", SK="RETRY"
//
// GSI1: GSI1PK (QUEUE#<name>) + GSI1SK (STATE#<state>#<created_at>)
// GSI2: GSI2PK (STATE#<state>) + GSI2SK (<created_at>)
// GSI3: GSI3PK (DUE#scheduled|DUE#retry) + GSI3SK (<due_at_ms>)
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB store.
func NewDynamoDBStore(client *dynamodb.Client, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// EnsureTable creates the table with GSIs if it doesn't exist.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		return nil
	}

	gsi := func(name, pk, sk string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			ProvisionedThroughput: &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(5),
				WriteCapacityUnits: aws.Int64(5),
			},
		}
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3SK"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi("GSI1", "GSI1PK", "GSI1SK"),
			gsi("GSI2", "GSI2PK", "GSI2SK"),
			gsi("GSI3", "GSI3PK", "GSI3SK"),
		},
		BillingMode: types.BillingModeProvisioned,
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(5),
			WriteCapacityUnits: aws.Int64(5),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable TTL: %w", err)
	}

	return nil
}

// PutJob stores a job record. The put is conditional on the job ID not
// already existing, which is what makes business-keyed IDs idempotent.
func (s *DynamoDBStore) PutJob(ctx context.Context, record *JobRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return ErrJobExists
		}
		return fmt.Errorf("failed to put job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *DynamoDBStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobID},
			"SK": &types.AttributeValueMemberS{Value: "JOB"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	var record JobRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &record, nil
}

// UpdateJobState updates a job's state and additional fields, refreshing
// the GSI attributes so state-based queries stay consistent.
func (s *DynamoDBStore) UpdateJobState(ctx context.Context, jobID, newState string, updates map[string]any) error {
	updateExpr := "SET #state = :state"
	exprAttrNames := map[string]string{
		"#state": "state",
	}
	exprAttrValues := map[string]types.AttributeValue{
		":state": &types.AttributeValueMemberS{Value: newState},
	}

	for key, value := range updates {
		placeholder := fmt.Sprintf(":val%d", len(exprAttrValues))
		attrName := fmt.Sprintf("#attr%d", len(exprAttrNames))
		updateExpr += fmt.Sprintf(", %s = %s", attrName, placeholder)
		exprAttrNames[attrName] = key

		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal update value for %s: %w", key, err)
		}
		exprAttrValues[placeholder] = av
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job for GSI update: %w", err)
	}

	updateExpr += ", GSI1SK = :gsi1sk, GSI2PK = :gsi2pk"
	exprAttrValues[":gsi1sk"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("STATE#%s#%s", newState, job.CreatedAt)}
	exprAttrValues[":gsi2pk"] = &types.AttributeValueMemberS{Value: "STATE#" + newState}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobID},
			"SK": &types.AttributeValueMemberS{Value: "JOB"},
		},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
	})
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}

	return nil
}

// DeleteJob removes a job.
func (s *DynamoDBStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobID},
			"SK": &types.AttributeValueMemberS{Value: "JOB"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// ListJobsByQueue returns jobs in a queue with a specific state.
func (s *DynamoDBStore) ListJobsByQueue(ctx context.Context, queue, state string, limit int) ([]*JobRecord, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "QUEUE#" + queue},
			":sk": &types.AttributeValueMemberS{Value: fmt.Sprintf("STATE#%s#", state)},
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by queue: %w", err)
	}

	jobs := make([]*JobRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var job JobRecord
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// PutFlow stores a flow record.
func (s *DynamoDBStore) PutFlow(ctx context.Context, flow *FlowRecord) error {
	flow.SK = "FLOW"

	item, err := attributevalue.MarshalMap(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put flow: %w", err)
	}

	return nil
}

// GetFlow retrieves a flow by ID.
func (s *DynamoDBStore) GetFlow(ctx context.Context, flowID string) (*FlowRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: flowID},
			"SK": &types.AttributeValueMemberS{Value: "FLOW"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("flow %s: %w", flowID, ErrNotFound)
	}

	var flow FlowRecord
	if err := attributevalue.UnmarshalMap(result.Item, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	return &flow, nil
}

// UpdateFlow updates flow fields.
func (s *DynamoDBStore) UpdateFlow(ctx context.Context, flowID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	updateExpr := "SET"
	exprAttrNames := make(map[string]string)
	exprAttrValues := make(map[string]types.AttributeValue)

	first := true
	for key, value := range updates {
		if !first {
			updateExpr += ","
		}
		first = false

		attrName := fmt.Sprintf("#attr%d", len(exprAttrNames))
		placeholder := fmt.Sprintf(":val%d", len(exprAttrValues))
		updateExpr += fmt.Sprintf(" %s = %s", attrName, placeholder)
		exprAttrNames[attrName] = key

		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal update value for %s: %w", key, err)
		}
		exprAttrValues[placeholder] = av
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: flowID},
			"SK": &types.AttributeValueMemberS{Value: "FLOW"},
		},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
	})
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}

	return nil
}

// PutCron stores a cron record. Re-registering an existing name is a
// no-op so process restarts do not duplicate recurring schedules.
func (s *DynamoDBStore) PutCron(ctx context.Context, cron *CronRecord) error {
	cron.PK = "CRON#" + cron.Name
	cron.SK = "CRON"

	item, err := attributevalue.MarshalMap(cron)
	if err != nil {
		return fmt.Errorf("failed to marshal cron: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return nil
		}
		return fmt.Errorf("failed to put cron: %w", err)
	}

	return nil
}

// GetCron retrieves a cron by name.
func (s *DynamoDBStore) GetCron(ctx context.Context, name string) (*CronRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "CRON#" + name},
			"SK": &types.AttributeValueMemberS{Value: "CRON"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cron: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("cron %s: %w", name, ErrNotFound)
	}

	var cron CronRecord
	if err := attributevalue.UnmarshalMap(result.Item, &cron); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cron: %w", err)
	}

	return &cron, nil
}

// ListCrons returns all cron records.
func (s *DynamoDBStore) ListCrons(ctx context.Context) ([]*CronRecord, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: "CRON#"},
			":sk":     &types.AttributeValueMemberS{Value: "CRON"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list crons: %w", err)
	}

	crons := make([]*CronRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var cron CronRecord
		if err := attributevalue.UnmarshalMap(item, &cron); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cron: %w", err)
		}
		crons = append(crons, &cron)
	}

	return crons, nil
}

// SetCronLastRun records the last fired tick for a cron.
func (s *DynamoDBStore) SetCronLastRun(ctx context.Context, name, lastRunAt string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "CRON#" + name},
			"SK": &types.AttributeValueMemberS{Value: "CRON"},
		},
		UpdateExpression: aws.String("SET last_run_at = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: lastRunAt},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set cron last run: %w", err)
	}

	return nil
}

// AcquireCronLock attempts to acquire a distributed lock for one cron
// firing so concurrent schedulers fire each cron at most once per tick.
func (s *DynamoDBStore) AcquireCronLock(ctx context.Context, name string, timestamp int64) (bool, error) {
	pk := fmt.Sprintf("CRON_LOCK#%s#%d", name, timestamp)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pk},
			"SK":        &types.AttributeValueMemberS{Value: "LOCK"},
			"timestamp": &types.AttributeValueMemberN{Value: strconv.FormatInt(timestamp, 10)},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix()+3600, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire cron lock: %w", err)
	}

	return true, nil
}

// AddScheduledJob adds a job to the scheduled due-time index.
func (s *DynamoDBStore) AddScheduledJob(ctx context.Context, jobID string, dueAtMs int64) error {
	return s.addDueJob(ctx, "SCHEDULED", "DUE#scheduled", jobID, dueAtMs)
}

// GetDueScheduledJobs returns scheduled jobs due at or before nowMs.
func (s *DynamoDBStore) GetDueScheduledJobs(ctx context.Context, nowMs int64) ([]string, error) {
	return s.queryDueJobs(ctx, "DUE#scheduled", nowMs)
}

// RemoveScheduledJob removes a job from the scheduled index.
func (s *DynamoDBStore) RemoveScheduledJob(ctx context.Context, jobID string) error {
	return s.removeDueJob(ctx, "SCHEDULED", jobID)
}

// AddRetryJob adds a job to the retry due-time index.
func (s *DynamoDBStore) AddRetryJob(ctx context.Context, jobID string, retryAtMs int64) error {
	return s.addDueJob(ctx, "RETRY", "DUE#retry", jobID, retryAtMs)
}

// GetDueRetryJobs returns retrying jobs due at or before nowMs.
func (s *DynamoDBStore) GetDueRetryJobs(ctx context.Context, nowMs int64) ([]string, error) {
	return s.queryDueJobs(ctx, "DUE#retry", nowMs)
}

// RemoveRetryJob removes a job from the retry index.
func (s *DynamoDBStore) RemoveRetryJob(ctx context.Context, jobID string) error {
	return s.removeDueJob(ctx, "RETRY", jobID)
}

func (s *DynamoDBStore) addDueJob(ctx context.Context, kind, gsi3pk, jobID string, dueAtMs int64) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: kind + "#" + jobID},
			"SK":        &types.AttributeValueMemberS{Value: kind},
			"job_id":    &types.AttributeValueMemberS{Value: jobID},
			"due_at_ms": &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
			"GSI3PK":    &types.AttributeValueMemberS{Value: gsi3pk},
			"GSI3SK":    &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add due job: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) queryDueJobs(ctx context.Context, gsi3pk string, nowMs int64) ([]string, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI3"),
		KeyConditionExpression: aws.String("GSI3PK = :pk AND GSI3SK <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: gsi3pk},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs, 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	jobIDs := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		if jobIDAttr, ok := item["job_id"]; ok {
			if jobIDVal, ok := jobIDAttr.(*types.AttributeValueMemberS); ok {
				jobIDs = append(jobIDs, jobIDVal.Value)
			}
		}
	}

	return jobIDs, nil
}

func (s *DynamoDBStore) removeDueJob(ctx context.Context, kind, jobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: kind + "#" + jobID},
			"SK": &types.AttributeValueMemberS{Value: kind},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to remove due job: %w", err)
	}

	return nil
}

// Ping verifies connectivity to DynamoDB.
func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// Close is a no-op for DynamoDB.
func (s *DynamoDBStore) Close() error {
	return nil
}
