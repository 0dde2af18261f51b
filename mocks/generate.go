package mocks

//go:generate mockgen -destination=./mock_signal_store.go -package=mocks SignalRelay/internal/domain/repository SignalStore,Broadcaster,EventPublisher
