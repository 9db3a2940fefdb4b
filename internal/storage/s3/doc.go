/*
Package s3 serves object stores that speak the S3 protocol: Amazon S3, Aliyun
OSS through its S3-compatible endpoint and Google Cloud Storage through XML
interoperability with HMAC keys.

One FileSystem implementation backs three drivers registered as "s3", "oss"
and "gcs". Each reads its own family of Hadoop-style config keys (for example
fs.s3a.access.key or fs.oss.accessKeyId) into a Config and builds an
aws-sdk-go-v2 client from it.

# Object Layout

Physical URIs have the form scheme://bucket/key. Directories are key
prefixes: List uses a "/" delimiter, Stat falls back to a prefix listing when
no object exists at the key, and Mkdir writes an empty "key/" marker.
Rename is a copy followed by a delete and is not atomic.

# Uploads

Create returns a writer that streams through a pipe into the SDK upload
manager, so large objects go up as multipart uploads without being held in
memory. With fs.s3a.cargoship.enabled set, objects are buffered and sent
through the CargoShip transporter instead, falling back to PutObject if the
transporter fails.

Append is not supported; the drivers advertise this in their Capability so the
dispatcher rejects it before a client is contacted.

# Errors

Missing keys and buckets wrap fs.ErrNotExist and access denials wrap
fs.ErrPermission, with the SDK error kept in the chain. IsTransient treats
throttling codes, 5xx responses and network failures as retryable.
*/
package s3
