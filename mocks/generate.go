package mocks

//go:generate mockgen -destination=./mock_bus.go -package=mocks github.com/rxtech-lab/argo-signals/internal/bus Publisher,StreamWriter,Scratchpad
//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/rxtech-lab/argo-signals/pkg/marketdata/provider KlineFetcher,Feed
