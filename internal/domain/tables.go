package domain

var Tables = []interface{}{
	// System
	&SysUser{},
	// Mirroring
	&Line{},
	&Conversation{},
	&Message{},
	// Queue
	&WebhookJob{},
}
