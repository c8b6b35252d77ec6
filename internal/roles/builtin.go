package roles

import "github.com/shaiso/Armada/internal/domain"

// Builtin возвращает реестр со встроенными плагинами всех ролей флота.
func Builtin() *Registry {
	r := NewRegistry()
	for _, p := range builtinPlugins() {
		r.Register(p)
	}
	return r
}

func builtinPlugins() []*ScriptPlugin {
	return []*ScriptPlugin{
		{
			RoleName: domain.RoleDatabase,
			Unit:     "postgresql",
			Service: `set -e
apt-get install -y -q postgresql postgresql-contrib`,
			PostConfigure: `set -e
PGCONF=$(ls -d /etc/postgresql/*/main | head -n1)
grep -q "^listen_addresses = '\*'" "$PGCONF/postgresql.conf" || echo "listen_addresses = '*'" >> "$PGCONF/postgresql.conf"
grep -q "armada-managed" "$PGCONF/pg_hba.conf" || echo "host all all 0.0.0.0/0 scram-sha-256 # armada-managed" >> "$PGCONF/pg_hba.conf"
systemctl restart postgresql
su postgres -c "psql -tc \"SELECT 1 FROM pg_roles WHERE rolname='$DB_USER'\"" | grep -q 1 || su postgres -c "psql -c \"CREATE ROLE $DB_USER LOGIN PASSWORD '$DB_PASSWORD'\""
su postgres -c "psql -tc \"SELECT 1 FROM pg_database WHERE datname='$DB_NAME'\"" | grep -q 1 || su postgres -c "createdb -O $DB_USER $DB_NAME"`,
			Defaults: map[string]string{
				"DB_USER":     "veza",
				"DB_PASSWORD": "veza",
				"DB_NAME":     "veza",
				"PORT":        "5432",
			},
		},
		{
			RoleName: domain.RoleCache,
			Unit:     "redis-server",
			Service: `set -e
apt-get install -y -q redis-server`,
			PostConfigure: `set -e
sed -i 's/^bind .*/bind 0.0.0.0/' /etc/redis/redis.conf
sed -i 's/^protected-mode yes/protected-mode no/' /etc/redis/redis.conf`,
			Defaults: map[string]string{"PORT": "6379"},
		},
		{
			RoleName: domain.RoleObjectStore,
			Unit:     "minio",
			Service: `set -e
test -x /usr/local/bin/minio || curl -fsSL -o /usr/local/bin/minio https://dl.min.io/server/minio/release/linux-amd64/minio
chmod +x /usr/local/bin/minio
id minio >/dev/null 2>&1 || useradd -r -s /usr/sbin/nologin minio
mkdir -p /var/lib/minio && chown minio:minio /var/lib/minio
cat > /etc/systemd/system/minio.service <<'UNIT'
[Unit]
Description=MinIO object storage
After=network-online.target
[Service]
User=minio
EnvironmentFile=/etc/armada/object_store.env
ExecStart=/usr/local/bin/minio server /var/lib/minio --address :${PORT}
Restart=always
[Install]
WantedBy=multi-user.target
UNIT
systemctl daemon-reload`,
			Defaults: map[string]string{
				"PORT":                "9000",
				"MINIO_ROOT_USER":     "veza",
				"MINIO_ROOT_PASSWORD": "veza-storage",
			},
		},
		goServicePlugin(domain.RoleAPIBackend, "veza-backend-api", "8080"),
		rustServicePlugin(domain.RoleRealtimeBackend, "veza-chat-server", "3001"),
		rustServicePlugin(domain.RoleMediaBackend, "veza-stream-server", "3002"),
		{
			RoleName: domain.RoleFrontend,
			Unit:     "nginx",
			Service: `set -e
apt-get install -y -q nginx nodejs npm git
test -d /opt/veza-frontend || git clone --depth 1 "$SOURCE_REPO" /opt/veza-frontend
cd /opt/veza-frontend && npm ci && npm run build
rm -rf /var/www/veza && cp -r dist /var/www/veza`,
			PostConfigure: `set -e
cat > /etc/nginx/sites-available/default <<CONF
server {
    listen ${PORT};
    root /var/www/veza;
    location / { try_files \$uri /index.html; }
    location /api/ { proxy_pass http://${API_UPSTREAM}; }
}
CONF
nginx -t`,
			Defaults: map[string]string{
				"PORT":        "5173",
				"SOURCE_REPO": "https://github.com/okinrev/veza-frontend.git",
			},
		},
		{
			RoleName: domain.RoleLoadBalancer,
			Unit:     "haproxy",
			Service: `set -e
apt-get install -y -q haproxy`,
			PostConfigure: `set -e
cat > /etc/haproxy/haproxy.cfg <<CONF
global
    daemon
defaults
    mode http
    timeout connect 5s
    timeout client 60s
    timeout server 60s
frontend http
    bind *:${PORT}
    acl is_api path_beg /api
    acl is_ws path_beg /ws
    acl is_stream path_beg /stream
    use_backend api if is_api
    use_backend chat if is_ws
    use_backend stream if is_stream
    default_backend web
backend api
    server api ${API_UPSTREAM} check
backend chat
    server chat ${CHAT_UPSTREAM} check
backend stream
    server stream ${STREAM_UPSTREAM} check
backend web
    server web ${WEB_UPSTREAM} check
CONF
haproxy -c -f /etc/haproxy/haproxy.cfg`,
			Defaults: map[string]string{"PORT": "80"},
		},
	}
}

// goServicePlugin — сервис на Go, собираемый из исходников внутри контейнера.
func goServicePlugin(role domain.Role, name, port string) *ScriptPlugin {
	return &ScriptPlugin{
		RoleName: role,
		Unit:     name,
		Service: `set -e
apt-get install -y -q golang git
test -d /opt/` + name + ` || git clone --depth 1 "$SOURCE_REPO" /opt/` + name + `
cd /opt/` + name + ` && go build -o /usr/local/bin/` + name + ` ./cmd/server
` + unitScript(name, role),
		Defaults: map[string]string{
			"PORT":        port,
			"SOURCE_REPO": "https://github.com/okinrev/" + name + ".git",
		},
	}
}

// rustServicePlugin — сервис на Rust, собираемый cargo внутри контейнера.
func rustServicePlugin(role domain.Role, name, port string) *ScriptPlugin {
	return &ScriptPlugin{
		RoleName: role,
		Unit:     name,
		Service: `set -e
apt-get install -y -q cargo pkg-config libssl-dev git
test -d /opt/` + name + ` || git clone --depth 1 "$SOURCE_REPO" /opt/` + name + `
cd /opt/` + name + ` && cargo build --release
install -m 0755 target/release/` + name + ` /usr/local/bin/` + name + `
` + unitScript(name, role),
		Defaults: map[string]string{
			"PORT":        port,
			"SOURCE_REPO": "https://github.com/okinrev/" + name + ".git",
		},
	}
}

// unitScript пишет systemd-юнит, читающий env-файл роли.
func unitScript(name string, role domain.Role) string {
	return `cat > /etc/systemd/system/` + name + `.service <<'UNIT'
[Unit]
Description=` + name + `
After=network-online.target
[Service]
EnvironmentFile=` + ConfigDir + `/` + string(role) + `.env
ExecStart=/usr/local/bin/` + name + `
Restart=always
[Install]
WantedBy=multi-user.target
UNIT
systemctl daemon-reload`
}
