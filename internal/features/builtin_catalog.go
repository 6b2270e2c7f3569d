package features

// BuiltinCatalogVersion 内置目录版本，模式变化时必须递增
const BuiltinCatalogVersion = "builtin-2026.10"

func lit(id, category string, scope Scope, pattern string) CatalogEntry {
	return CatalogEntry{ID: id, Pattern: pattern, Kind: KindLiteral, Category: category, Weight: 1, Scope: scope}
}

func litI(id, category string, scope Scope, pattern string) CatalogEntry {
	e := lit(id, category, scope, pattern)
	e.IgnoreCase = true
	return e
}

func rx(id, category string, scope Scope, pattern string) CatalogEntry {
	return CatalogEntry{ID: id, Pattern: pattern, Kind: KindRegex, Category: category, Weight: 1, Scope: scope}
}

// BuiltinCatalog 内置模式目录
func BuiltinCatalog() *Catalog {
	entries := []CatalogEntry{
		// ==================== API 使用 (仅反编译源码) ====================
		lit("net.url", CategoryNetworkAPI, ScopeSource, "new URL("),
		lit("net.openconn", CategoryNetworkAPI, ScopeSource, "openConnection("),
		lit("net.socket", CategoryNetworkAPI, ScopeSource, "new Socket("),
		lit("net.datagram", CategoryNetworkAPI, ScopeSource, "DatagramSocket"),
		lit("net.httpclient", CategoryNetworkAPI, ScopeSource, "HttpClient"),
		lit("net.okhttp", CategoryNetworkAPI, ScopeSource, "okhttp3."),

		rx("exec.runtime", CategoryProcessExec, ScopeSource, `Runtime\.getRuntime\(\)\s*\.exec\(`),
		lit("exec.processbuilder", CategoryProcessExec, ScopeSource, "new ProcessBuilder("),

		lit("refl.forname", CategoryReflection, ScopeSource, "Class.forName("),
		lit("refl.method", CategoryReflection, ScopeSource, "getDeclaredMethod("),
		lit("refl.field", CategoryReflection, ScopeSource, "getDeclaredField("),
		lit("refl.accessible", CategoryReflection, ScopeSource, "setAccessible(true)"),
		lit("refl.invoke", CategoryReflection, ScopeSource, ".invoke("),

		lit("cl.urlclassloader", CategoryClassLoading, ScopeSource, "URLClassLoader"),
		lit("cl.defineclass", CategoryClassLoading, ScopeSource, "defineClass("),
		lit("cl.loadclass", CategoryClassLoading, ScopeSource, ".loadClass("),
		lit("cl.lookup", CategoryClassLoading, ScopeSource, "MethodHandles.lookup()"),

		lit("http.method", CategoryHTTPOperations, ScopeSource, "setRequestMethod("),
		lit("http.property", CategoryHTTPOperations, ScopeSource, "setRequestProperty("),
		lit("http.output", CategoryHTTPOperations, ScopeSource, "getOutputStream()"),
		lit("http.dooutput", CategoryHTTPOperations, ScopeSource, "setDoOutput(true)"),
		lit("http.post", CategoryHTTPOperations, ScopeSource, `"POST"`),

		// ==================== 文件系统与凭据 ====================
		litI("fs.appdata", CategoryFilesystemEscape, ScopeAll, "APPDATA"),
		lit("fs.userhome", CategoryFilesystemEscape, ScopeAll, "user.home"),
		litI("fs.localstorage", CategoryFilesystemEscape, ScopeAll, "Local Storage"),
		litI("fs.leveldb", CategoryFilesystemEscape, ScopeAll, "leveldb"),
		lit("fs.logindata", CategoryFilesystemEscape, ScopeAll, "Login Data"),
		lit("fs.dotminecraft", CategoryFilesystemEscape, ScopeAll, ".minecraft"),
		lit("fs.feather", CategoryFilesystemEscape, ScopeAll, ".feather"),
		lit("fs.lunar", CategoryFilesystemEscape, ScopeAll, ".lunarclient"),

		lit("cred.session", CategoryCredentialAccess, ScopeAll, "getSessionID"),
		lit("cred.token", CategoryCredentialAccess, ScopeAll, "getToken"),
		lit("cred.accesstoken", CategoryCredentialAccess, ScopeAll, "accessToken"),
		lit("cred.launcheraccounts", CategoryCredentialAccess, ScopeAll, "launcher_accounts.json"),
		lit("cred.launcherprofiles", CategoryCredentialAccess, ScopeAll, "launcher_profiles.json"),
		lit("cred.essential", CategoryCredentialAccess, ScopeAll, "microsoft_accounts.json"),
		rx("cred.discordtoken", CategoryCredentialAccess, ScopeAll, `[\w-]{24}\.[\w-]{6}\.[\w-]{27}|mfa\.[\w-]{84}`),

		lit("collect.username", CategoryDataCollection, ScopeAll, "user.name"),
		lit("collect.osname", CategoryDataCollection, ScopeAll, "os.name"),
		lit("collect.hostname", CategoryDataCollection, ScopeAll, "getHostName"),
		lit("collect.ipify", CategoryDataCollection, ScopeAll, "api.ipify.org"),
		lit("collect.checkip", CategoryDataCollection, ScopeAll, "checkip.amazonaws.com"),
		lit("collect.screencap", CategoryDataCollection, ScopeAll, "createScreenCapture"),
		lit("collect.clipboard", CategoryDataCollection, ScopeAll, "getSystemClipboard"),
		lit("collect.hwid", CategoryDataCollection, ScopeAll, "PROCESSOR_IDENTIFIER"),

		lit("b64.class", CategoryBase64, ScopeAll, "Base64"),
		lit("b64.decoder", CategoryBase64, ScopeAll, "getDecoder()"),
		lit("b64.commons", CategoryBase64, ScopeAll, "decodeBase64"),

		// ==================== 字符串模式 ====================
		rx("str.discordwebhook", CategoryDiscordWebhook, ScopeAll, `https://(canary\.|ptb\.)?discord(app)?\.com/api/webhooks/[0-9]+/[\w-]+`),

		litI("url.pastebin", CategorySuspiciousURL, ScopeAll, "pastebin.com"),
		litI("url.hastebin", CategorySuspiciousURL, ScopeAll, "hastebin"),
		litI("url.transfersh", CategorySuspiciousURL, ScopeAll, "transfer.sh"),
		litI("url.ngrok", CategorySuspiciousURL, ScopeAll, "ngrok.io"),
		litI("url.telegram", CategorySuspiciousURL, ScopeAll, "api.telegram.org"),
		litI("url.herokuapp", CategorySuspiciousURL, ScopeAll, "herokuapp.com"),
		litI("url.replit", CategorySuspiciousURL, ScopeAll, ".repl.co"),
		litI("url.anonfiles", CategorySuspiciousURL, ScopeAll, "anonfiles"),

		rx("str.ipv4", CategoryIPLiteral, ScopeAll, `\b(?:25[0-5]|2[0-4]\d|1?\d?\d)(?:\.(?:25[0-5]|2[0-4]\d|1?\d?\d)){3}:\d{2,5}\b`),

		litI("sh.cmd", CategoryShellFragment, ScopeAll, "cmd.exe"),
		lit("sh.cmdc", CategoryShellFragment, ScopeAll, "cmd /c"),
		lit("sh.binsh", CategoryShellFragment, ScopeAll, "/bin/sh"),
		lit("sh.binbash", CategoryShellFragment, ScopeAll, "/bin/bash"),
		litI("sh.powershell", CategoryShellFragment, ScopeAll, "powershell"),
		litI("sh.schtasks", CategoryShellFragment, ScopeAll, "schtasks"),
		lit("sh.regadd", CategoryShellFragment, ScopeAll, "reg add"),

		litI("c2.keylogger", CategoryC2Keyword, ScopeAll, "keylogger"),
		litI("c2.reverseshell", CategoryC2Keyword, ScopeAll, "reverse shell"),
		litI("c2.botnet", CategoryC2Keyword, ScopeAll, "botnet"),
		litI("c2.heartbeat", CategoryC2Keyword, ScopeAll, "heartbeat"),
		litI("c2.exfil", CategoryC2Keyword, ScopeAll, "exfil"),
		litI("c2.payload", CategoryC2Keyword, ScopeAll, "payload"),

		litI("kw.token", CategorySuspiciousKeyword, ScopeAll, "token"),
		litI("kw.webhook", CategorySuspiciousKeyword, ScopeAll, "webhook"),
		litI("kw.session", CategorySuspiciousKeyword, ScopeAll, "session"),
		litI("kw.auth", CategorySuspiciousKeyword, ScopeAll, "auth"),
		litI("kw.mojang", CategorySuspiciousKeyword, ScopeAll, "mojang"),
		litI("kw.discord", CategorySuspiciousKeyword, ScopeAll, "discord"),
		litI("kw.stealer", CategorySuspiciousKeyword, ScopeAll, "stealer"),

		litI("rat.func111286b", CategoryRATSignature, ScopeAll, "func_111286_b"),
		litI("rat.discord_accent", CategoryRATSignature, ScopeAll, "discòrd"),
		litI("rat.requestv2", CategoryRATSignature, ScopeAll, "requestv2"),

		litI("legit.minecraftnet", CategoryLegitimateDomain, ScopeAll, "minecraft.net"),
		litI("legit.mojangcom", CategoryLegitimateDomain, ScopeAll, "mojang.com"),
		litI("legit.curseforge", CategoryLegitimateDomain, ScopeAll, "curseforge.com"),
		litI("legit.modrinth", CategoryLegitimateDomain, ScopeAll, "modrinth.com"),
		litI("legit.github", CategoryLegitimateDomain, ScopeAll, "github.com"),
		litI("legit.fabricmc", CategoryLegitimateDomain, ScopeAll, "fabricmc.net"),
		litI("legit.forge", CategoryLegitimateDomain, ScopeAll, "minecraftforge.net"),
		litI("legit.spigot", CategoryLegitimateDomain, ScopeAll, "spigotmc.org"),
		litI("legit.papermc", CategoryLegitimateDomain, ScopeAll, "papermc.io"),

		// ==================== 结构 (字节码引用与条目路径) ====================
		lit("game.minecraft", CategoryGameAPI, ScopeRefs, "net/minecraft/"),
		lit("game.forge", CategoryGameAPI, ScopeRefs, "net/minecraftforge/"),
		lit("game.fabric", CategoryGameAPI, ScopeRefs, "net/fabricmc/"),
		lit("game.bukkit", CategoryGameAPI, ScopeRefs, "org/bukkit/"),
		lit("game.mojang", CategoryGameAPI, ScopeRefs, "com/mojang/"),
		lit("game.sponge", CategoryGameAPI, ScopeRefs, "org/spongepowered/"),
		lit("game.velocity", CategoryGameAPI, ScopeRefs, "com/velocitypowered/"),

		rx("meta.fabric", CategoryModMetadata, ScopePaths, `(?m)^fabric\.mod\.json$`),
		rx("meta.quilt", CategoryModMetadata, ScopePaths, `(?m)^quilt\.mod\.json$`),
		rx("meta.forge", CategoryModMetadata, ScopePaths, `(?m)^META-INF/mods\.toml$`),
		rx("meta.neoforge", CategoryModMetadata, ScopePaths, `(?m)^META-INF/neoforge\.mods\.toml$`),
		rx("meta.mcmod", CategoryModMetadata, ScopePaths, `(?m)^mcmod\.info$`),
		rx("meta.bukkit", CategoryModMetadata, ScopePaths, `(?m)^plugin\.yml$`),
		rx("meta.paper", CategoryModMetadata, ScopePaths, `(?m)^paper-plugin\.yml$`),
		rx("meta.bungee", CategoryModMetadata, ScopePaths, `(?m)^bungee\.yml$`),
		rx("meta.velocity", CategoryModMetadata, ScopePaths, `(?m)^velocity-plugin\.json$`),
	}

	return &Catalog{Version: BuiltinCatalogVersion, Entries: entries}
}
