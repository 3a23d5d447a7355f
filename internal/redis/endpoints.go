package redis

import (
	"context"
	"fmt"
)

// PushEndpoints stores the SNS endpoint ARNs registered per supplier.
type PushEndpoints struct {
	client *Client
}

func NewPushEndpoints(client *Client) *PushEndpoints {
	return &PushEndpoints{client: client}
}

func endpointsKey(supplierID string) string {
	return fmt.Sprintf("push:endpoints:%s", supplierID)
}

// Add registers arn for supplierID.
func (p *PushEndpoints) Add(ctx context.Context, supplierID, arn string) error {
	if err := p.client.rdb.SAdd(ctx, endpointsKey(supplierID), arn).Err(); err != nil {
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	return nil
}

// Remove forgets arn, typically after SNS reports it disabled.
func (p *PushEndpoints) Remove(ctx context.Context, supplierID, arn string) error {
	if err := p.client.rdb.SRem(ctx, endpointsKey(supplierID), arn).Err(); err != nil {
		return fmt.Errorf("redis srem failed: %w", err)
	}
	return nil
}

// Endpoints lists the registered ARNs.
func (p *PushEndpoints) Endpoints(ctx context.Context, supplierID string) ([]string, error) {
	arns, err := p.client.rdb.SMembers(ctx, endpointsKey(supplierID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	return arns, nil
}
