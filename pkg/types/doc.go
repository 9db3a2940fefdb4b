/*
Package types provides the contracts shared by the virtual filesystem and its
storage backends.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        Virtual Filesystem Dispatcher        │
	│        (internal/gvfs, cmd/gvfs)            │
	└─────────────────────────────────────────────┘
	      │             │               │
	┌─────┴─────┐ ┌─────┴──────┐ ┌──────┴───────┐
	│ Metadata  │ │  Client    │ │   Driver     │
	│ Resolver  │ │  Cache     │ │   Registry   │
	└───────────┘ └────────────┘ └──────────────┘
	                                    │
	        ┌──────────┬──────────┬─────┴────┬──────────┐
	        │   hdfs   │  s3/oss  │   gcs    │  local   │
	        └──────────┴──────────┴──────────┴──────────┘

# Core Interfaces

FileSystem is implemented by every backend client. Paths passed to it are
full physical URIs; results carry physical URIs which the dispatcher rewrites
back into virtual paths.

Driver constructs FileSystem clients from a BackendConfig and reports the
static Capability of its backend family (append support, default
replication, default block size).

DefaultsReporter and ErrorClassifier are optional. A backend that implements
DefaultsReporter is asked for its own replication and block size before the
driver defaults are used. A backend that implements ErrorClassifier decides
whether its errors are transient.

# Thread Safety

FileSystem clients are shared between concurrent operations through the
client cache, so every implementation must be safe for concurrent use.
*/
package types
