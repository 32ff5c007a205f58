package types

// CLIArgs represents the command-line arguments.
type CLIArgs struct {
	ConfigFile string
	EnvFile    string
	Provider   string
	Since      string
	Account    string
	Credential string
	Dir        string
	ReportName string
	Addr       string
	Workers    int
	LogLevel   string
	LogFormat  string
	LogFile    string
}
