package manager

// Built-in backend definitions. These are plain data: everything here could
// equally ship as a backends/<name>.kdl file, and user definitions with the
// same name override them.

func builtinDefinitions() []BackendConfig {
	pacman := NewBackendConfig("pacman")
	pacman.DisplayTitle = "Pacman"
	pacman.Binary = []string{"pacman"}
	pacman.Platforms = []string{"linux"}
	pacman.NeedsSudo = true
	pacman.ListCmd = "{binary} -Qe"
	pacman.ListNameCol = 0
	pacman.ListVersionCol = 1
	pacman.InstallCmd = "{binary} -S {packages}"
	pacman.RemoveCmd = "{binary} -R {packages}"
	pacman.SearchCmd = "{binary} -Ss {query}"
	pacman.SearchLocalCmd = "{binary} -Qs {query}"
	pacman.UpdateCmd = "{binary} -Sy"
	pacman.UpgradeCmd = "{binary} -Syu"
	pacman.CacheCleanCmd = "{binary} -Sc"
	pacman.NoconfirmFlag = "--noconfirm"

	aur := NewBackendConfig("aur")
	aur.DisplayTitle = "AUR"
	aur.Binary = []string{"paru", "yay"}
	aur.Platforms = []string{"linux"}
	aur.Fallback = "pacman"
	aur.ListCmd = "{binary} -Qe"
	aur.ListNameCol = 0
	aur.ListVersionCol = 1
	aur.InstallCmd = "{binary} -S {packages}"
	aur.RemoveCmd = "{binary} -R {packages}"
	aur.SearchCmd = "{binary} -Ss {query}"
	aur.SearchLocalCmd = "{binary} -Qs {query}"
	aur.UpdateCmd = "{binary} -Sy"
	aur.UpgradeCmd = "{binary} -Syu"
	aur.CacheCleanCmd = "{binary} -Sc"
	aur.NoconfirmFlag = "--noconfirm"

	flatpak := NewBackendConfig("flatpak")
	flatpak.DisplayTitle = "Flatpak"
	flatpak.Binary = []string{"flatpak"}
	flatpak.Platforms = []string{"linux"}
	flatpak.ListFormat = FormatTSV
	flatpak.ListCmd = "{binary} list --app --columns=application,version"
	flatpak.ListNameCol = 0
	flatpak.ListVersionCol = 1
	flatpak.InstallCmd = "{binary} install flathub {packages}"
	flatpak.RemoveCmd = "{binary} uninstall {packages}"
	flatpak.SearchCmd = "{binary} search {query} --columns=application,version"
	flatpak.UpdateCmd = "{binary} update --appstream"
	flatpak.UpgradeCmd = "{binary} update"
	flatpak.CacheCleanCmd = "{binary} uninstall --unused"
	flatpak.NoconfirmFlag = "-y"

	soar := NewBackendConfig("soar")
	soar.DisplayTitle = "Soar"
	soar.Binary = []string{"soar"}
	soar.Platforms = []string{"linux"}
	soar.ListCmd = "{binary} list --installed"
	soar.ListNameCol = 0
	soar.ListVersionCol = 1
	soar.InstallCmd = "{binary} install {packages}"
	soar.RemoveCmd = "{binary} remove {packages}"
	soar.SearchCmd = "{binary} search {query}"
	soar.UpdateCmd = "{binary} sync"
	soar.UpgradeCmd = "{binary} update"
	soar.NoconfirmFlag = "--yes"

	npm := NewBackendConfig("npm")
	npm.DisplayTitle = "npm"
	npm.Binary = []string{"npm"}
	npm.ListFormat = FormatJSONObjectKeys
	npm.ListCmd = "{binary} ls -g --json --depth=0"
	npm.ListJSONPath = "dependencies"
	npm.ListVersionKey = "version"
	npm.InstallCmd = "{binary} install -g {packages}"
	npm.RemoveCmd = "{binary} uninstall -g {packages}"
	npm.SearchCmd = "{binary} search {query} --parseable"
	npm.PreferListForLocalSearch = true

	yarn := NewBackendConfig("yarn")
	yarn.DisplayTitle = "Yarn"
	yarn.Binary = []string{"yarn"}
	yarn.ListFormat = FormatRegex
	yarn.ListCmd = "{binary} global list"
	yarn.ListRegex = `^info "(?P<name>[^@"]+)@(?P<version>[^"]+)"`
	yarn.InstallCmd = "{binary} global add {packages}"
	yarn.RemoveCmd = "{binary} global remove {packages}"
	yarn.PreferListForLocalSearch = true

	pnpm := NewBackendConfig("pnpm")
	pnpm.DisplayTitle = "pnpm"
	pnpm.Binary = []string{"pnpm"}
	pnpm.ListFormat = FormatJSONObjectKeys
	pnpm.ListCmd = "{binary} ls -g --json --depth=0"
	pnpm.ListJSONPath = "dependencies"
	pnpm.ListVersionKey = "version"
	pnpm.InstallCmd = "{binary} add -g {packages}"
	pnpm.RemoveCmd = "{binary} remove -g {packages}"
	pnpm.PreferListForLocalSearch = true

	bun := NewBackendConfig("bun")
	bun.DisplayTitle = "Bun"
	bun.Binary = []string{"bun"}
	bun.ListFormat = FormatRegex
	bun.ListCmd = "{binary} pm ls -g"
	bun.ListRegex = `(?P<name>\S+)@(?P<version>\S+)$`
	bun.InstallCmd = "{binary} add -g {packages}"
	bun.RemoveCmd = "{binary} remove -g {packages}"
	bun.PreferListForLocalSearch = true

	pip := NewBackendConfig("pip")
	pip.DisplayTitle = "pip"
	pip.Binary = []string{"pip", "pip3"}
	pip.ListFormat = FormatJSON
	pip.ListCmd = "{binary} list --format=json"
	pip.ListNameKey = "name"
	pip.ListVersionKey = "version"
	pip.InstallCmd = "{binary} install {packages}"
	pip.RemoveCmd = "{binary} uninstall -y {packages}"
	pip.PreferListForLocalSearch = true

	cargo := NewBackendConfig("cargo")
	cargo.DisplayTitle = "Cargo"
	cargo.Binary = []string{"cargo"}
	cargo.ListFormat = FormatRegex
	cargo.ListCmd = "{binary} install --list"
	cargo.ListRegex = `^(?P<name>[A-Za-z0-9_-]+) v(?P<version>\S+):`
	cargo.InstallCmd = "{binary} install {packages}"
	cargo.RemoveCmd = "{binary} uninstall {packages}"
	cargo.SearchCmd = "{binary} search {query}"
	cargo.PreferListForLocalSearch = true

	brew := NewBackendConfig("brew")
	brew.DisplayTitle = "Homebrew"
	brew.Binary = []string{"brew"}
	brew.Platforms = []string{"darwin", "linux"}
	brew.ListCmd = "{binary} list --versions"
	brew.ListNameCol = 0
	brew.ListVersionCol = 1
	brew.InstallCmd = "{binary} install {packages}"
	brew.RemoveCmd = "{binary} uninstall {packages}"
	brew.SearchCmd = "{binary} search {query}"
	brew.UpdateCmd = "{binary} update"
	brew.UpgradeCmd = "{binary} upgrade"
	brew.CacheCleanCmd = "{binary} cleanup"

	return []BackendConfig{pacman, aur, flatpak, soar, npm, yarn, pnpm, bun, pip, cargo, brew}
}
