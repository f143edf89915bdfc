// Package config loads the deltanet.toml file used by the deltanet command.
//
// # Configuration File Structure
//
//	[server]
//	address = ":7971"
//	path = "/delta-net-websocket"
//	tick_interval = "50ms"
//	heartbeat_interval = "15s"
//	messages_per_second = 0
//	max_connections_per_ip = 0
//	allowed_origins = []
//	enable_metrics = true
//	enable_state_endpoint = false
//
//	[limits]
//	max_state_value_size = 1048576
//	max_message_size = 10485760
//
//	[auth]
//	jwt_secret_env = "DELTANET_JWT_SECRET"
//	issuer = ""
//	subject_state_id = 2
//	connection_id_state_id = 1
//
//	[log]
//	level = "info"
//	format = "text"
//
//	[snapshot]
//	bucket = ""
//	prefix = "snapshots/"
//	region = "us-east-1"
//	interval = "1m"
//
// Every key is optional; missing keys take the defaults shown by New.
// Unknown keys are rejected so that typos do not pass silently.
package config
