// Package hdfs is the "hdfs" backend driver, built on the colinmarc/hdfs
// native client. Backend config is handed to the client as Hadoop
// configuration, so namenode addresses come from fs.defaultFS or HA
// nameservice keys, and hdfs:// URIs naming any other authority are dialed
// directly.
package hdfs
