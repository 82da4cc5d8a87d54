package config

import "time"

// Webhook processing knobs. All env-overridable; defaults match what the
// payment providers we integrate actually need in production:
// - WEBHOOK_MAX_AGE_SECONDS (default 300): oldest acceptable event timestamp
// - WEBHOOK_MAX_FUTURE_SKEW_SECONDS (default 60): clock-skew allowance
// - ORDER_LOCK_LEASE_SECONDS (default 120): must exceed the slowest business
//   transition or the lock can expire mid-transaction
// - WEBHOOK_MAX_RETRIES (default 1): failed -> processing re-admissions per event
// - WEBHOOK_RETENTION_DAYS (default 90): terminal ledger rows older than this
//   are purged by the retention job

func WebhookMaxAge() time.Duration {
	return time.Duration(intFromEnv("WEBHOOK_MAX_AGE_SECONDS", 300)) * time.Second
}

func WebhookMaxFutureSkew() time.Duration {
	return time.Duration(intFromEnv("WEBHOOK_MAX_FUTURE_SKEW_SECONDS", 60)) * time.Second
}

func OrderLockLease() time.Duration {
	return time.Duration(intFromEnv("ORDER_LOCK_LEASE_SECONDS", 120)) * time.Second
}

func WebhookMaxRetries() int {
	return intFromEnv("WEBHOOK_MAX_RETRIES", 1)
}

func WebhookRetentionDays() int {
	return intFromEnv("WEBHOOK_RETENTION_DAYS", 90)
}
