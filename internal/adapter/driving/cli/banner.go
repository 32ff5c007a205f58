package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/diillson/billing-datasource-go/pkg/version"
)

// displayWelcomeBanner exibe o banner de boas-vindas com informações de versão.
func displayWelcomeBanner(w io.Writer) {
	banner := `
     ____  _ _ _ _                ____        _                                  
    | __ )(_) | (_)_ __   __ _   |  _ \  __ _| |_ __ _ ___  ___  _   _ _ __ ___ ___ 
    |  _ \| | | | | '_ \ / _' |  | | | |/ _' | __/ _' / __|/ _ \| | | | '__/ __/ _ \
    | |_) | | | | | | | | (_| |  | |_| | (_| | || (_| \__ \ (_) | |_| | | | (_|  __/
    |____/|_|_|_|_|_| |_|\__, |  |____/ \__,_|\__\__,_|___/\___/ \__,_|_|  \___\___|
                         |___/                                                    
        `
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	blue := color.New(color.FgBlue, color.Bold).SprintFunc()

	fmt.Fprintln(w, red(banner))
	fmt.Fprintln(w, blue(fmt.Sprintf("Billing Datasource (v%s)", version.FormatVersion())))
}
