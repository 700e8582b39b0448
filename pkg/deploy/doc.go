/*
Package deploy applies a single compiled module to the host.

There is one generic driver. System modules converge their files, then
their packages, then their services, restarting services when anything
earlier in the module changed. Container modules converge their files
and then their container. Module variants add behaviour through named
pre and post Steps rather than by replacing the driver.

A RunContext is created for every convergence run. It hands out the
collaborators modules need (file applier, package manager, systemd
manager, container converger) and opens the container runtime lazily on
first use. Close releases the runtime connection; the reconciler always
closes the context when the run ends.
*/
package deploy
