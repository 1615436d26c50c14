package config

const (
	// TopicPublishSweep triggers one batched queue sweep per message.
	TopicPublishSweep = "publish.sweep"

	// TopicPublishResult carries job outcomes (published, retrying, failed).
	TopicPublishResult = "publish.result"

	// ChannelWorker is the consumer channel used by sweep workers.
	ChannelWorker = "worker"
)
