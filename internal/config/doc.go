/*
Package config loads the virtual filesystem configuration.

Sources are applied in order, later ones winning:

	compiled-in defaults (NewDefault)
	YAML file            (LoadFromFile)
	environment          (LoadFromEnv, GVFS_*)
	flat properties      (ApplyProperties / FromProperties)

Flat properties use the Hadoop-style keys understood by Gravitino clients:

	fs.gravitino.server.uri                metadata service address
	fs.gravitino.client.metalake           target metalake
	fs.gravitino.client.authType           none, simple or oauth2
	fs.gravitino.client.simpleAuthUser     user for simple auth
	fs.gravitino.client.oauth2.token       bearer token for oauth2
	fs.gravitino.client.request.timeout    metadata call timeout (ms or Go duration)
	fs.gvfs.impl.disable.cache             build a fresh backend client per operation
	fs.gravitino.block.size                default block size, e.g. 32MB
	fs.gravitino.fileset.cache.ttl         location cache TTL, 0 disables it
	fs.gravitino.fileset.cache.max         location cache bound
	fs.gravitino.client.failure.threshold  transient failures before a client is dropped
	fs.gravitino.backend.timeout           backend call timeout, 0 for none

Every property is also kept verbatim in Properties. Keys starting with the
bypass prefix (gravitino.bypass. by default) are forwarded to backend drivers
with the prefix removed:

	gravitino.bypass.fs.oss.endpoint=oss-cn-hangzhou.aliyuncs.com

reaches the oss driver as fs.oss.endpoint.

Example YAML:

	global:
	  log_level: INFO
	  log_format: json
	server:
	  uri: http://localhost:8090
	  metalake: metalake_demo
	  auth_type: simple
	  user: etl
	filesystem:
	  default_block_size: 32MB
	  location_cache_ttl: 0s
	  failure_threshold: 5
	metrics:
	  enabled: true
	  address: ":9464"
	properties:
	  gravitino.bypass.fs.s3a.endpoint: http://minio:9000
*/
package config
