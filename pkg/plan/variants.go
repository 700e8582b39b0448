package plan

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/pkg/deploy"
	"github.com/cuemby/fleetd/pkg/health"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
)

const (
	// MariaDBAddressProperty overrides where the mariadb variant waits for the server
	MariaDBAddressProperty = "MARIADB_ADDRESS"

	defaultMariaDBAddress = "127.0.0.1:3306"
	mariaDBStartTimeout   = 2 * time.Minute
	mysqlUpgradeTimeout   = 30 * time.Minute
)

// SysctlVariant reloads kernel parameters after the module's files change
func SysctlVariant() Variant {
	return Variant{
		Name: "sysctl",
		Kind: types.ModuleKindSystem,
		Post: []deploy.Step{{Name: "sysctl-reload", Run: reloadSysctl}},
	}
}

func reloadSysctl(ctx context.Context, rc *deploy.RunContext, m *types.Module, changed bool) (bool, error) {
	if !changed {
		return false, nil
	}
	if _, err := system.MustSucceed(ctx, rc.Runner, system.Command{Name: "sysctl", Args: []string{"--system"}, Timeout: time.Minute}); err != nil {
		return false, types.NewApplyError("sysctl", err)
	}
	return true, nil
}

// MariaDBVariant upgrades the data directory whenever the server container
// is recreated
func MariaDBVariant() Variant {
	return Variant{
		Name: "mariadb",
		Kind: types.ModuleKindContainer,
		Post: []deploy.Step{{Name: "mysql-upgrade", Run: upgradeMariaDB}},
	}
}

func upgradeMariaDB(ctx context.Context, rc *deploy.RunContext, m *types.Module, changed bool) (bool, error) {
	if !rc.Recreated(m.Container.Name) {
		return false, nil
	}

	addr := rc.Properties[MariaDBAddressProperty]
	if addr == "" {
		addr = defaultMariaDBAddress
	}
	if err := health.Validate(ctx, health.NewTCPChecker(addr), health.Config{Timeout: mariaDBStartTimeout}); err != nil {
		return false, types.NewApplyError("container "+m.Container.Name, err)
	}

	conv, err := rc.Containers(ctx)
	if err != nil {
		return false, types.NewApplyError("container "+m.Container.Name, err)
	}
	if _, err := conv.RunEphemeral(ctx, m.Container, "mysql", []string{"mysql_upgrade"}, mysqlUpgradeTimeout); err != nil {
		return false, err
	}
	return true, nil
}
