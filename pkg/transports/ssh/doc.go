// Package ssh connects the task runner to managed hosts. It dials SSH
// with key-based auth, uploads the gw-agent binary over SFTP, and runs
// task actions through the agent's stdio protocol.
//
// The Executor implements engine.TaskExecutor with one cached
// connection per host. Credential refs name where a private key lives
// ("file:~/.ssh/id_ed25519" or "env:GW_SSH_KEY"); key material is never
// stored in topology or inventory files.
package ssh
