package service_interfaces

import "context"

type ReconciliationService interface {
	Run(ctx context.Context) error
}
