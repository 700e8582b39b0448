/*
Package runtime implements container.Runtime on top of containerd.

Containers live in the "fleetd" namespace and always share the host
network. Declared bind mounts, devices and added capabilities are applied
to the generated OCI spec; privileged containers get the full capability
set. Attributes that cannot be read back from the OCI runtime spec (privileged, log
driver, added capabilities, image digest) are recorded as container
labels so Inspect can report what was declared at creation time.

Long-lived containers are registered with containerd's restart monitor.
Containers declared with syslog logging have their output piped through
the fleetd-logshim binary, which forwards each line to the host syslog
endpoint (udp://127.0.0.1:514 by default) tagged with the container name.

Ephemeral containers are run attached: Run creates a task with captured
output, waits for it to exit and kills it when the context ends.
*/
package runtime
