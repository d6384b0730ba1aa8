package oauth

import "html/template"

// authorizePage is the login/signup form. The OAuth request parameters are
// echoed as hidden fields; html/template escapes every value.
var authorizePage = template.Must(template.New("authorize").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Sign in to {{.AppName}}</title>
</head>
<body>
  <h1>Sign in to continue</h1>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <form method="POST" action="{{.ActionPath}}">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
    <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
    <input type="hidden" name="response_type" value="{{.ResponseType}}">
    <input type="hidden" name="state" value="{{.State}}">
    <label>Email <input type="email" name="email" required></label>
    <label>Password <input type="password" name="password" required></label>
    <label>Name (sign up only) <input type="text" name="name"></label>
    <button type="submit" name="mode" value="login">Sign in</button>
    <button type="submit" name="mode" value="signup">Sign up</button>
  </form>
</body>
</html>
`))

// successPage accompanies the 302 back to the client's redirect URI.
var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authorized</title>
</head>
<body>
  <p>Authorization complete. <a href="{{.RedirectTo}}">Continue</a>.</p>
</body>
</html>
`))

type authorizePageData struct {
	AppName             string
	ActionPath          string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	ResponseType        string
	State               string
	Error               string
}
