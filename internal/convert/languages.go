package convert

import "strings"

var codeLanguages = map[string]bool{}

func init() {
	for _, l := range strings.Split("abap,arduino,bash,basic,c,clojure,coffeescript,c++,c#,css,dart,diff,docker,"+
		"elixir,elm,erlang,flow,fortran,f#,gherkin,glsl,go,graphql,groovy,haskell,html,java,javascript,json,"+
		"julia,kotlin,latex,less,lisp,livescript,lua,makefile,markdown,markup,matlab,mermaid,nix,objective-c,"+
		"ocaml,pascal,perl,php,plain text,powershell,prolog,protobuf,python,r,reason,ruby,rust,sass,scala,"+
		"scheme,scss,shell,sql,swift,typescript,vb.net,verilog,vhdl,visual basic,webassembly,xml,yaml", ",") {
		codeLanguages[l] = true
	}
}

// languageFromClass maps the suffix of a language-x class to a known language name.
func languageFromClass(suffix string) string {
	lang := strings.ToLower(strings.TrimSpace(suffix))
	if codeLanguages[lang] {
		return lang
	}
	if spaced := strings.ReplaceAll(lang, "-", " "); codeLanguages[spaced] {
		return spaced
	}
	switch lang {
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	case "py":
		return "python"
	case "sh", "zsh":
		return "shell"
	case "golang":
		return "go"
	case "yml":
		return "yaml"
	}
	return "plain text"
}

func languageClass(lang string) string {
	if lang == "" {
		lang = "plain text"
	}
	return "language-" + strings.ReplaceAll(strings.ToLower(lang), " ", "-")
}
